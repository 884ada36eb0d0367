package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/marathon/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var bucketQueries = []byte("queries")

// QueryStore implements domain.Store using BoltDB with an in-memory front.
//
// Entries read back from disk were fetched by an earlier process, so they are
// always promoted as stale: they only serve as placeholders until revalidated.
type QueryStore struct {
	db     *bolt.DB
	mu     sync.RWMutex // Protects cache and fetching, and orders writes to db
	logger *slog.Logger

	// In-memory cache for hot-path reads (promoted on access)
	cache    map[string][]byte
	fetching map[string]int
	now      func() time.Time
}

// NewQueryStore opens the cache for serverURL under baseCacheDir.
// An empty baseCacheDir keeps everything in memory.
func NewQueryStore(baseCacheDir, serverURL string, logger *slog.Logger) (*QueryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &QueryStore{
		cache:    make(map[string][]byte),
		fetching: make(map[string]int),
		now:      time.Now,
		logger:   logger,
	}
	if baseCacheDir == "" {
		return s, nil
	}

	dir := baseCacheDir
	if serverURL != "" {
		dir = filepath.Join(baseCacheDir, hashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "marathon.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *QueryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *QueryStore) read(key string) ([]byte, bool) {
	s.mu.RLock()
	if data, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return data, true
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, false
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueries)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to read cache entry", "key", key, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	// Promote to memory as stale
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("discarding unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	entry.Stale = true
	promoted, err := json.Marshal(entry)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	// A Save that raced us wins
	if current, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return current, true
	}
	s.cache[key] = promoted
	s.mu.Unlock()

	return promoted, true
}

func (s *QueryStore) write(key string, entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(key, data)
}

// writeLocked updates memory and disk together. Caller holds s.mu.
func (s *QueryStore) writeLocked(key string, data []byte) error {
	s.cache[key] = data

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueries).Put([]byte(key), data)
	})
}

// === domain.Store ===

func (s *QueryStore) Get(key string) (domain.CacheEntry, bool) {
	data, ok := s.read(key)
	if !ok {
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CacheEntry{}, false
	}
	if entry.Progress.WatchedEpisodes == nil {
		entry.Progress.WatchedEpisodes = domain.WatchedEpisodes{}
	}
	return entry, true
}

func (s *QueryStore) Save(key string, progress domain.UserProgressData) error {
	return s.write(key, domain.CacheEntry{
		Progress:  progress,
		FetchedAt: s.now(),
	})
}

// Invalidate marks key stale in one locked step, so a concurrent Save is
// either fully before it (and marked stale) or fully after it (and fresh).
func (s *QueryStore) Invalidate(key string) {
	// Promote a disk entry first; read takes the lock itself
	if _, ok := s.read(key); !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.cache[key]
	if !ok {
		return
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
		delete(s.cache, key)
		return
	}
	if entry.Stale {
		return
	}

	entry.Stale = true
	updated, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := s.writeLocked(key, updated); err != nil {
		// Memory already holds the stale entry; only the disk copy lags
		s.logger.Warn("failed to persist invalidation", "key", key, "error", err)
	}
}

func (s *QueryStore) IsFetching(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetching[key] > 0
}

func (s *QueryStore) SetFetching(key string, fetching bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fetching {
		s.fetching[key]++
		return
	}
	if s.fetching[key] <= 1 {
		delete(s.fetching, key)
		return
	}
	s.fetching[key]--
}

// InvalidateAll drops every entry, memory and disk.
func (s *QueryStore) InvalidateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]byte)

	if s.db == nil {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketQueries); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketQueries)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
