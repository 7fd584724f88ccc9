package retrieval

import (
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// cacheSet holds the engine's two cache levels.
//
// The recent cache (L1) is small and short-lived, keyed by record id and
// updated incrementally on writes and reads. The result cache (L2) is larger
// and longer-lived, keyed by canonical page/search strings, and cleared
// wholesale on any write — a page or search result can include any record,
// so per-key invalidation would have to enumerate every key anyway.
//
// Ristretto enforces TTLs at read time, so an expired entry is never served.
// Admission is best-effort: a miss after Set is a slower read, never a wrong
// one.
type cacheSet struct {
	recent  *ristretto.Cache
	results *ristretto.Cache

	recentTTL time.Duration
	resultTTL time.Duration
}

func newCacheSet(recentTTL, resultTTL time.Duration) (*cacheSet, error) {
	recent, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     256,
		BufferItems: 64,
	})
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to create recent cache", err)
	}

	results, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     2048,
		BufferItems: 64,
	})
	if err != nil {
		recent.Close()
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to create result cache", err)
	}

	return &cacheSet{
		recent:    recent,
		results:   results,
		recentTTL: recentTTL,
		resultTTL: resultTTL,
	}, nil
}

func recordKey(id int64) string {
	return "r:" + strconv.FormatInt(id, 10)
}

func (c *cacheSet) getRecord(id int64) (*storage.MemoryRecord, bool) {
	v, ok := c.recent.Get(recordKey(id))
	if !ok {
		return nil, false
	}
	record, ok := v.(*storage.MemoryRecord)
	return record, ok
}

// setRecord updates the recent cache and waits for the write to apply, so a
// completed operation is reflected before it is acknowledged.
func (c *cacheSet) setRecord(record *storage.MemoryRecord) {
	c.recent.SetWithTTL(recordKey(record.ID), record.Clone(), 1, c.recentTTL)
	c.recent.Wait()
}

func (c *cacheSet) delRecord(id int64) {
	c.recent.Del(recordKey(id))
}

func (c *cacheSet) getResult(key string) (*pageResult, bool) {
	v, ok := c.results.Get(key)
	if !ok {
		return nil, false
	}
	result, ok := v.(*pageResult)
	return result, ok
}

func (c *cacheSet) setResult(key string, result *pageResult) {
	c.results.SetWithTTL(key, result, 1, c.resultTTL)
	c.results.Wait()
}

// clearResults drops every cached page and search result.
func (c *cacheSet) clearResults() {
	c.results.Clear()
}

func (c *cacheSet) close() {
	c.recent.Close()
	c.results.Close()
}
