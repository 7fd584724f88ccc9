// Package file provides a file-based implementation of durable record
// storage.
//
// Each record lives in its own JSON file. Writes go through a temp file,
// fsync, and rename, so a crash mid-write leaves the prior version intact.
// Overwrites snapshot the previous good version into a backup directory;
// a record that fails checksum verification on read is restored from the
// newest verifiable backup.
package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openswarm/swarm-go/pkg/storage"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

const (
	recordsDir = "records"
	backupsDir = "backups"
)

// Config contains configuration for creating a file Store.
type Config struct {
	// DataDir is the root directory for record and backup files.
	DataDir string

	// BackupRetention is how many backup snapshots to keep per record.
	// Values below 1 default to 3.
	BackupRetention int
}

// Store implements RecordStore on the local filesystem.
//
// Writes are serialized per record id; operations on different records
// proceed concurrently.
type Store struct {
	dataDir   string
	retention int

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

var _ storage.RecordStore = (*Store)(nil)
var _ storage.Backuper = (*Store)(nil)

// New creates a file Store rooted at cfg.DataDir, creating the record and
// backup directories if needed.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, swarmerr.New(swarmerr.KindMissingField, "data_dir is required")
	}
	retention := cfg.BackupRetention
	if retention < 1 {
		retention = 3
	}

	for _, dir := range []string{recordsDir, backupsDir} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, fsError("failed to create data directory", err)
		}
	}

	return &Store{
		dataDir:   cfg.DataDir,
		retention: retention,
		locks:     make(map[int64]*sync.Mutex),
	}, nil
}

// lock acquires the record's mutex and returns its release func.
func (s *Store) lock(id int64) func() {
	s.lockMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Put inserts or replaces a record.
//
// The previous good version, if any, is snapshotted to the backup directory
// before the new version is written; the write itself is temp-file + fsync +
// rename, so it either fully lands or leaves the old file untouched.
func (s *Store) Put(ctx context.Context, record *storage.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return swarmerr.From(err)
	}
	if record == nil || record.ID == 0 {
		return swarmerr.New(swarmerr.KindMissingField, "record id is required")
	}

	unlock := s.lock(record.ID)
	defer unlock()

	sealed := record.Clone()
	sealed.Seal()
	data, err := json.Marshal(sealed)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "failed to encode record", err)
	}

	path := s.recordPath(record.ID)
	if _, statErr := os.Stat(path); statErr == nil {
		// Best effort: a failed snapshot must not block the write itself.
		_ = s.backupLocked(record.ID)
	}

	if err := s.writeAtomic(path, data); err != nil {
		return err
	}

	// Reflect the sealed state back to the caller.
	record.Checksum = sealed.Checksum
	record.CreatedAt = sealed.CreatedAt
	record.LastReferenced = sealed.LastReferenced
	return nil
}

// Get retrieves a record, verifying its checksum. A verification failure
// triggers recovery from the newest verifiable backup; when no backup
// verifies, the record surfaces as resource-corrupted.
func (s *Store) Get(ctx context.Context, id int64) (*storage.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, swarmerr.From(err)
	}

	unlock := s.lock(id)
	defer unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id int64) (*storage.MemoryRecord, error) {
	record, err := s.loadVerified(s.recordPath(id))
	if err == nil {
		return record, nil
	}
	if swarmerr.IsKind(err, swarmerr.KindNotFound) ||
		swarmerr.IsKind(err, swarmerr.KindResourceFailure) {
		return nil, err
	}

	// Primary copy unreadable or corrupt: try backups, newest first.
	restored, restoreErr := s.restoreLocked(id)
	if restoreErr != nil {
		return nil, swarmerr.Wrap(swarmerr.KindCorrupted,
			"record "+strconv.FormatInt(id, 10)+" is corrupted and unrecoverable", err)
	}
	return restored, nil
}

// Touch increments the reference count and updates LastReferenced.
func (s *Store) Touch(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return swarmerr.From(err)
	}

	unlock := s.lock(id)
	defer unlock()

	record, err := s.getLocked(id)
	if err != nil {
		return err
	}

	record.ReferenceCount++
	record.LastReferenced = at
	record.Seal()

	data, err := json.Marshal(record)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "failed to encode record", err)
	}
	return s.writeAtomic(s.recordPath(id), data)
}

// Delete removes a record and its backups.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return swarmerr.From(err)
	}

	unlock := s.lock(id)
	defer unlock()

	if err := os.Remove(s.recordPath(id)); err != nil {
		if os.IsNotExist(err) {
			return swarmerr.Newf(swarmerr.KindNotFound, "record %d not found", id)
		}
		return fsError("failed to delete record", err)
	}

	for _, path := range s.backupPaths(id) {
		_ = os.Remove(path)
	}
	return nil
}

// All retrieves every record ordered by ascending ID. A corrupted record
// with no recoverable backup fails the whole listing rather than silently
// dropping data.
func (s *Store) All(ctx context.Context) ([]*storage.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, swarmerr.From(err)
	}

	ids, err := s.listIDs()
	if err != nil {
		return nil, err
	}

	records := make([]*storage.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		unlock := s.lock(id)
		record, err := s.getLocked(id)
		unlock()
		if err != nil {
			if swarmerr.IsKind(err, swarmerr.KindNotFound) {
				continue // deleted between the listing and the read
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, swarmerr.From(err)
	}

	ids, err := s.listIDs()
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Backup snapshots every record's current good version, rotating snapshots
// past the configured retention.
func (s *Store) Backup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return swarmerr.From(err)
	}

	ids, err := s.listIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		unlock := s.lock(id)
		err := s.backupLocked(id)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources. The file store holds no open handles between
// operations, so this is a no-op kept for interface symmetry.
func (s *Store) Close() error {
	return nil
}

// loadVerified reads and decodes one record file and verifies its checksum.
func (s *Store) loadVerified(path string) (*storage.MemoryRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swarmerr.New(swarmerr.KindNotFound,
				"record not found: "+filepath.Base(path))
		}
		return nil, fsError("failed to read record", err)
	}

	var record storage.MemoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindCorrupted,
			"record file is not valid JSON", err)
	}
	if err := record.Verify(); err != nil {
		return nil, err
	}
	return &record, nil
}

// restoreLocked scans a record's backups newest-first and promotes the first
// one that verifies back to the primary path.
func (s *Store) restoreLocked(id int64) (*storage.MemoryRecord, error) {
	paths := s.backupPaths(id)
	for _, path := range paths {
		record, err := s.loadVerified(path)
		if err != nil {
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			return nil, swarmerr.Wrap(swarmerr.KindInternal, "failed to encode record", err)
		}
		if err := s.writeAtomic(s.recordPath(id), data); err != nil {
			return nil, err
		}
		return record, nil
	}
	return nil, swarmerr.Newf(swarmerr.KindCorrupted,
		"no verifiable backup for record %d", id)
}

// backupLocked copies the record's current bytes into the backup directory
// and drops snapshots beyond the retention bound.
func (s *Store) backupLocked(id int64) error {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fsError("failed to read record for backup", err)
	}

	name := strconv.FormatInt(id, 10) + "." + strconv.FormatInt(time.Now().UnixNano(), 10) + ".json"
	if err := s.writeAtomic(filepath.Join(s.dataDir, backupsDir, name), data); err != nil {
		return err
	}

	paths := s.backupPaths(id)
	for i := s.retention; i < len(paths); i++ {
		_ = os.Remove(paths[i])
	}
	return nil
}

// backupPaths lists a record's backups, newest first.
func (s *Store) backupPaths(id int64) []string {
	pattern := filepath.Join(s.dataDir, backupsDir, strconv.FormatInt(id, 10)+".*.json")
	paths, _ := filepath.Glob(pattern)
	// Timestamps are fixed-width nanosecond counts for any realistic clock,
	// so lexicographic descending order is newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths
}

// listIDs lists stored record ids in ascending order.
func (s *Store) listIDs() ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, recordsDir))
	if err != nil {
		return nil, fsError("failed to list records", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) recordPath(id int64) string {
	return filepath.Join(s.dataDir, recordsDir, strconv.FormatInt(id, 10)+".json")
}

// writeAtomic writes data through a temp file, fsync, and rename, then syncs
// the parent directory so the rename itself is durable.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fsError("failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fsError("failed to write record", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fsError("failed to sync record", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fsError("failed to close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fsError("failed to replace record", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// fsError classifies a filesystem failure through the taxonomy: permission
// and disk-capacity problems stay in the resource category rather than
// reading as internal bugs.
func fsError(message string, err error) error {
	return swarmerr.Wrap(swarmerr.From(err).Kind, message, err)
}
