// Package retrieval serves paginated and ranked reads over a durable record
// store, with a two-level cache in front.
//
// All cache mutation happens inside the Engine: writes invalidate before they
// acknowledge, so a completed Put is immediately visible to readers.
package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Derived record statuses, computed at read time from current store state.
const (
	// StatusNew marks a record created within the recent window.
	StatusNew = "new"

	// StatusFrequent marks a record whose reference count exceeds the
	// frequent-access threshold.
	StatusFrequent = "frequently-accessed"
)

// Record is a stored record plus its derived statuses.
type Record struct {
	storage.MemoryRecord

	// Status holds the derived statuses (new, frequently-accessed).
	Status []string `json:"status,omitempty"`
}

// PageInfo is pagination metadata for a page or search result.
type PageInfo struct {
	// Page is the 1-based page number that was requested.
	Page int `json:"page"`

	// PageSize is the requested page size.
	PageSize int `json:"pageSize"`

	// TotalCount is the number of records matching the request.
	TotalCount int `json:"totalCount"`

	// TotalPages is ceil(TotalCount / PageSize).
	TotalPages int `json:"totalPages"`

	// HasNext reports whether a later page exists.
	HasNext bool `json:"hasNext"`

	// HasPrev reports whether an earlier page exists.
	HasPrev bool `json:"hasPrev"`
}

// Page is one page of records with its metadata.
type Page struct {
	Records []*Record `json:"records"`
	Info    PageInfo  `json:"info"`
}

// Filters narrows a search beyond the query string. Zero values mean
// unconstrained.
type Filters struct {
	// Themes requires every listed theme to be present on the record.
	Themes []string `json:"themes,omitempty"`

	// Emotion names an emotion whose intensity must fall inside
	// [EmotionMin, EmotionMax]. EmotionMax 0 means no upper bound.
	Emotion    string  `json:"emotion,omitempty"`
	EmotionMin float64 `json:"emotionMin,omitempty"`
	EmotionMax float64 `json:"emotionMax,omitempty"`

	// CreatedAfter / CreatedBefore bound the record's creation time.
	CreatedAfter  time.Time `json:"createdAfter,omitempty"`
	CreatedBefore time.Time `json:"createdBefore,omitempty"`
}

// canonical renders the filters into a stable cache-key fragment.
func (f Filters) canonical() string {
	themes := append([]string(nil), f.Themes...)
	sort.Strings(themes)

	var b strings.Builder
	b.WriteString("t=")
	b.WriteString(strings.Join(themes, ","))
	b.WriteString("|e=")
	b.WriteString(f.Emotion)
	b.WriteString("|emin=")
	b.WriteString(strconv.FormatFloat(f.EmotionMin, 'g', -1, 64))
	b.WriteString("|emax=")
	b.WriteString(strconv.FormatFloat(f.EmotionMax, 'g', -1, 64))
	b.WriteString("|ca=")
	if !f.CreatedAfter.IsZero() {
		b.WriteString(f.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}
	b.WriteString("|cb=")
	if !f.CreatedBefore.IsZero() {
		b.WriteString(f.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}

func (f Filters) matches(record *storage.MemoryRecord) bool {
	for _, want := range f.Themes {
		found := false
		for _, theme := range record.Themes {
			if strings.EqualFold(theme, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Emotion != "" {
		intensity, ok := record.Emotions[f.Emotion]
		if !ok || intensity < f.EmotionMin {
			return false
		}
		if f.EmotionMax > 0 && intensity > f.EmotionMax {
			return false
		}
	}

	if !f.CreatedAfter.IsZero() && record.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && record.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

// Options tunes the engine.
type Options struct {
	// RecentTTL is the recent-record cache TTL. Defaults to 30s.
	RecentTTL time.Duration

	// ResultTTL is the page/search result cache TTL. Defaults to 5m.
	ResultTTL time.Duration

	// RecentWindow bounds how long after creation a record reads as new.
	// Defaults to 24h.
	RecentWindow time.Duration

	// FrequentThreshold is the reference count above which a record reads
	// as frequently accessed. Defaults to 5.
	FrequentThreshold int64

	// Scorer ranks search results. Defaults to DefaultScorer.
	Scorer Scorer

	// NodeID feeds the snowflake id generator. Defaults to 1.
	NodeID int64
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.RecentTTL <= 0 {
		out.RecentTTL = 30 * time.Second
	}
	if out.ResultTTL <= 0 {
		out.ResultTTL = 5 * time.Minute
	}
	if out.RecentWindow <= 0 {
		out.RecentWindow = 24 * time.Hour
	}
	if out.FrequentThreshold <= 0 {
		out.FrequentThreshold = 5
	}
	if out.Scorer == nil {
		out.Scorer = DefaultScorer{}
	}
	if out.NodeID <= 0 {
		out.NodeID = 1
	}
	return out
}

// Engine serves reads and writes over a RecordStore through the cache
// levels.
type Engine struct {
	store  storage.RecordStore
	caches *cacheSet
	opts   Options
	node   *snowflake.Node

	now func() time.Time
}

// NewEngine creates an Engine over the given store.
func NewEngine(store storage.RecordStore, opts Options) (*Engine, error) {
	resolved := opts.withDefaults()

	node, err := snowflake.NewNode(resolved.NodeID)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to create id generator", err)
	}

	caches, err := newCacheSet(resolved.RecentTTL, resolved.ResultTTL)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:  store,
		caches: caches,
		opts:   resolved,
		node:   node,
		now:    time.Now,
	}, nil
}

// Close releases the engine's caches. The underlying store is not closed;
// the caller owns it.
func (e *Engine) Close() {
	e.caches.close()
}

// Put stores a record. A zero ID is assigned from the snowflake generator
// and a zero CreatedAt is stamped with the current time.
//
// The result caches are cleared and the recent cache updated before Put
// returns, so the write is visible to every subsequent read.
func (e *Engine) Put(ctx context.Context, record *storage.MemoryRecord) (*Record, error) {
	if record == nil || strings.TrimSpace(record.Content) == "" {
		return nil, swarmerr.New(swarmerr.KindMissingField, "content is required")
	}
	if record.ID == 0 {
		record.ID = e.node.Generate().Int64()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = e.now()
	}

	if err := e.store.Put(ctx, record); err != nil {
		return nil, swarmerr.From(err)
	}

	e.caches.clearResults()
	e.caches.setRecord(record)
	return e.view(record), nil
}

// Get retrieves a record by id: recent cache first, then the store. A store
// read counts as a reference (Touch) and refreshes the cache entry.
func (e *Engine) Get(ctx context.Context, id int64) (*Record, error) {
	if id == 0 {
		return nil, swarmerr.New(swarmerr.KindMissingField, "id is required")
	}

	if record, ok := e.caches.getRecord(id); ok {
		cacheCounter.WithLabelValues("recent", "hit").Inc()
		return e.view(record), nil
	}
	cacheCounter.WithLabelValues("recent", "miss").Inc()

	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, swarmerr.From(err)
	}
	at := e.now()
	if err := e.store.Touch(ctx, id, at); err != nil {
		return nil, swarmerr.From(err)
	}
	record.ReferenceCount++
	record.LastReferenced = at
	record.Seal()

	e.caches.setRecord(record)
	return e.view(record), nil
}

// Delete removes a record and drops it from the caches.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return swarmerr.From(err)
	}
	e.caches.delRecord(id)
	e.caches.clearResults()
	return nil
}

// Backup snapshots the store when the backend supports it.
func (e *Engine) Backup(ctx context.Context) error {
	backuper, ok := e.store.(storage.Backuper)
	if !ok {
		return swarmerr.New(swarmerr.KindInvalidInput,
			"storage backend does not support backups")
	}
	return backuper.Backup(ctx)
}

// GetPage returns one deterministically ordered page of records.
//
// sortKey is one of created, referenced, refcount, id (empty means created);
// ties always break by ascending id. page < 1 or pageSize < 1 is a
// validation error. A page beyond the last returns an empty slice with
// accurate metadata.
func (e *Engine) GetPage(ctx context.Context, page, pageSize int, sortKey string) (*Page, error) {
	if page < 1 {
		return nil, swarmerr.New(swarmerr.KindInvalidInput, "page must be >= 1")
	}
	if pageSize < 1 {
		return nil, swarmerr.New(swarmerr.KindInvalidInput, "pageSize must be >= 1")
	}
	if sortKey == "" {
		sortKey = "created"
	}
	if !validSortKey(sortKey) {
		return nil, swarmerr.Newf(swarmerr.KindInvalidInput, "unknown sort key %q", sortKey)
	}

	key := "page|" + strconv.Itoa(page) + "|" + strconv.Itoa(pageSize) + "|" + sortKey
	if cached, ok := e.caches.getResult(key); ok {
		cacheCounter.WithLabelValues("result", "hit").Inc()
		return e.pageView(cached), nil
	}
	cacheCounter.WithLabelValues("result", "miss").Inc()

	records, err := e.store.All(ctx)
	if err != nil {
		return nil, swarmerr.From(err)
	}
	sortRecords(records, sortKey)

	result := paginate(records, page, pageSize)
	e.caches.setResult(key, result)
	return e.pageView(result), nil
}

// Search returns records matching the query and all filters, ranked by the
// configured scorer. Ties break by descending reference count, then by
// ascending id. No match yields an empty page with TotalCount 0, not an
// error.
func (e *Engine) Search(ctx context.Context, query string, filters Filters, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, swarmerr.New(swarmerr.KindInvalidInput, "page must be >= 1")
	}
	if pageSize < 1 {
		return nil, swarmerr.New(swarmerr.KindInvalidInput, "pageSize must be >= 1")
	}

	key := "search|" + query + "|" + filters.canonical() +
		"|" + strconv.Itoa(page) + "|" + strconv.Itoa(pageSize)
	if cached, ok := e.caches.getResult(key); ok {
		cacheCounter.WithLabelValues("result", "hit").Inc()
		return e.pageView(cached), nil
	}
	cacheCounter.WithLabelValues("result", "miss").Inc()

	records, err := e.store.All(ctx)
	if err != nil {
		return nil, swarmerr.From(err)
	}

	now := e.now()
	type scored struct {
		record *storage.MemoryRecord
		score  float64
	}
	var matches []scored
	for _, record := range records {
		if !matchesQuery(record, query) || !filters.matches(record) {
			continue
		}
		matches = append(matches, scored{record, e.opts.Scorer.Score(record, query, now)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].record.ReferenceCount != matches[j].record.ReferenceCount {
			return matches[i].record.ReferenceCount > matches[j].record.ReferenceCount
		}
		return matches[i].record.ID < matches[j].record.ID
	})

	ranked := make([]*storage.MemoryRecord, len(matches))
	for i, m := range matches {
		ranked[i] = m.record
	}

	result := paginate(ranked, page, pageSize)
	e.caches.setResult(key, result)
	return e.pageView(result), nil
}

// pageResult is the cacheable form of one page.
type pageResult struct {
	records []*storage.MemoryRecord
	info    PageInfo
}

func paginate(records []*storage.MemoryRecord, page, pageSize int) *pageResult {
	total := len(records)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &pageResult{
		records: records[start:end],
		info: PageInfo{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	}
}

func validSortKey(key string) bool {
	switch key {
	case "created", "referenced", "refcount", "id":
		return true
	}
	return false
}

// sortRecords orders records by the sort key, newest/highest first, with
// ascending id as the tiebreak (and the sole order for "id").
func sortRecords(records []*storage.MemoryRecord, sortKey string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch sortKey {
		case "created":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case "referenced":
			if !a.LastReferenced.Equal(b.LastReferenced) {
				return a.LastReferenced.After(b.LastReferenced)
			}
		case "refcount":
			if a.ReferenceCount != b.ReferenceCount {
				return a.ReferenceCount > b.ReferenceCount
			}
		}
		return a.ID < b.ID
	})
}

// view derives the record's statuses at read time.
func (e *Engine) view(record *storage.MemoryRecord) *Record {
	out := &Record{MemoryRecord: *record.Clone()}

	now := e.now()
	if now.Sub(record.CreatedAt) <= e.opts.RecentWindow {
		out.Status = append(out.Status, StatusNew)
	}
	if record.ReferenceCount > e.opts.FrequentThreshold {
		out.Status = append(out.Status, StatusFrequent)
	}
	return out
}

func (e *Engine) pageView(result *pageResult) *Page {
	page := &Page{
		Records: make([]*Record, len(result.records)),
		Info:    result.info,
	}
	for i, record := range result.records {
		page.Records[i] = e.view(record)
	}
	return page
}
