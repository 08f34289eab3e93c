package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/DatanoiseTV/chatstore/internal/store"
)

// recordPrefix namespaces record keys inside the badger keyspace.
const recordPrefix = "rec/"

// storedRecord is the badger value for a record key.
type storedRecord struct {
	Data     []byte `json:"data"`
	ModTime  int64  `json:"mod_time"` // Unix nanoseconds
	Checksum uint64 `json:"checksum"`
}

func (r storedRecord) record(p string) Record {
	return Record{Path: p, Data: r.Data, ModTime: time.Unix(0, r.ModTime), Checksum: r.Checksum}
}

type downloadState struct {
	status DownloadStatus
	err    error
}

// BadgerStore keeps the authoritative record set in a BadgerDB and
// materializes records into a local directory on demand.
type BadgerStore struct {
	db        *badger.DB
	localRoot string
	logger    zerolog.Logger

	mu        sync.Mutex
	downloads map[string]downloadState
	closed    bool
	wg        sync.WaitGroup
}

// OpenBadgerStore opens (or creates) the record database at dir. An empty
// dir opens an in-memory database.
func OpenBadgerStore(dir, localRoot string, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR).
		WithLogger(badgerLogger{logger: logger.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open record database: %v", ErrRemoteUnavailable, err)
	}
	return NewBadgerStore(db, localRoot, logger), nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(db *badger.DB, localRoot string, logger zerolog.Logger) *BadgerStore {
	return &BadgerStore{
		db:        db,
		localRoot: localRoot,
		logger:    logger.With().Str("component", "remote").Logger(),
		downloads: make(map[string]downloadState),
	}
}

// Close waits for in-flight downloads and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// StartDownload schedules a background copy of the remote record into the
// local root. Calling it while a download is running is a no-op.
func (s *BadgerStore) StartDownload(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRemoteUnavailable
	}
	if s.downloads[p].status == StatusDownloading {
		return nil
	}
	s.downloads[p] = downloadState{status: StatusDownloading}
	s.wg.Add(1)
	go s.download(p)
	return nil
}

func (s *BadgerStore) download(p string) {
	defer s.wg.Done()

	state := downloadState{status: StatusCurrent}
	if err := s.materialize(p); err != nil {
		s.logger.Error().Err(err).Str("path", p).Msg("download failed")
		state = downloadState{status: StatusNotDownloaded, err: err}
	}

	s.mu.Lock()
	s.downloads[p] = state
	s.mu.Unlock()
}

// materialize writes the remote record over the local file unless the local
// copy already has the same content. A path with no remote record is left
// untouched.
func (s *BadgerStore) materialize(p string) error {
	rec, found, err := s.get(p)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	local := s.localPath(p)
	if data, err := os.ReadFile(local); err == nil && Checksum(data) == rec.Checksum {
		return nil
	}

	if err := store.WriteFileAtomic(local, rec.Data, 0o644); err != nil {
		return err
	}
	if err := os.Chtimes(local, rec.ModTime, rec.ModTime); err != nil {
		s.logger.Warn().Err(err).Str("path", p).Msg("failed to stamp modification time")
	}
	s.logger.Debug().Str("path", p).Int("bytes", len(rec.Data)).Msg("materialized record")
	return nil
}

// DownloadStatus reports the state of the most recent download of p, or
// derives it from content when no download was requested.
func (s *BadgerStore) DownloadStatus(ctx context.Context, p string) (DownloadStatus, error) {
	p, err := CleanPath(p)
	if err != nil {
		return StatusNotDownloaded, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return StatusNotDownloaded, ErrRemoteUnavailable
	}
	state, tracked := s.downloads[p]
	s.mu.Unlock()

	if tracked {
		if state.err != nil {
			return state.status, fmt.Errorf("%w: %v", ErrRemoteUnavailable, state.err)
		}
		return state.status, nil
	}

	rec, found, err := s.get(p)
	if err != nil {
		return StatusNotDownloaded, err
	}
	if !found {
		return StatusCurrent, nil
	}
	data, err := os.ReadFile(s.localPath(p))
	if err != nil || Checksum(data) != rec.Checksum {
		return StatusNotDownloaded, nil
	}
	return StatusCurrent, nil
}

// Upload publishes the local file at p.
func (s *BadgerStore) Upload(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	local := s.localPath(p)
	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("failed to read %s for upload: %w", p, err)
	}
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("failed to stat %s for upload: %w", p, err)
	}

	rec := Record{Path: p, Data: data, ModTime: info.ModTime(), Checksum: Checksum(data)}
	if err := s.Push(ctx, []Record{rec}); err != nil {
		return err
	}

	s.mu.Lock()
	s.downloads[p] = downloadState{status: StatusCurrent}
	s.mu.Unlock()
	return nil
}

// Remove deletes the record at p.
func (s *BadgerStore) Remove(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(recordPrefix + p))
	})
	if err != nil {
		return fmt.Errorf("%w: failed to remove %s: %v", ErrRemoteUnavailable, p, err)
	}

	s.mu.Lock()
	delete(s.downloads, p)
	s.mu.Unlock()
	return nil
}

// List describes every stored record.
func (s *BadgerStore) List(ctx context.Context) ([]RecordInfo, error) {
	records, err := s.Pull(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]RecordInfo, len(records))
	for i, r := range records {
		infos[i] = RecordInfo{Path: r.Path, ModTime: r.ModTime, Size: len(r.Data), Checksum: r.Checksum}
	}
	return infos, nil
}

// Pull returns every stored record in key order.
func (s *BadgerStore) Pull(ctx context.Context) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	records := []Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			p := string(item.Key()[len(recordPrefix):])

			var stored storedRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				s.logger.Warn().Err(err).Str("path", p).Msg("skipping malformed record")
				continue
			}
			records = append(records, stored.record(p))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return records, nil
}

// Push stores records, replacing any existing record at the same path.
func (s *BadgerStore) Push(ctx context.Context, records []Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		p, err := CleanPath(r.Path)
		if err != nil {
			return err
		}
		checksum := r.Checksum
		if checksum == 0 {
			checksum = Checksum(r.Data)
		}
		val, err := json.Marshal(storedRecord{Data: r.Data, ModTime: r.ModTime.UnixNano(), Checksum: checksum})
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", p, err)
		}
		if err := wb.Set([]byte(recordPrefix+p), val); err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return nil
}

func (s *BadgerStore) get(p string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + p))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var stored storedRecord
			if err := json.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			rec = stored.record(p)
			found = true
			return nil
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return rec, found, nil
}

func (s *BadgerStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRemoteUnavailable
	}
	return nil
}

func (s *BadgerStore) localPath(p string) string {
	return filepath.Join(s.localRoot, filepath.FromSlash(p))
}
