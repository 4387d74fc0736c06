// Package devicestore keeps the device table in an external JSON document and
// mirrors it in a short-lived in-memory snapshot.
package devicestore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/devicegate/devicegate/internal/device"
)

// DefaultTTL is how long a fetched snapshot is served without a remote read.
const DefaultTTL = 60 * time.Second

// Document is one whole JSON document holding the device table.
type Document interface {
	// Read returns the stored table.
	Read(ctx context.Context) (*device.Table, error)

	// Write replaces the stored table with table. There is no merge and no
	// version check.
	Write(ctx context.Context, table *device.Table) error
}

// MetricsRecorder receives store call and cache metrics.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// StoreConfig holds configuration for the Store.
type StoreConfig struct {
	// Name labels metrics and logs, e.g. "jsonbin".
	Name     string
	Document Document
	TTL      time.Duration
	Logger   zerolog.Logger
	Metrics  MetricsRecorder

	// Now is the clock used for snapshot expiry. Defaults to time.Now.
	Now func() time.Time
}

// Store serves the device table from a cached snapshot backed by a Document.
// Callers always receive their own copy of the table.
type Store struct {
	name    string
	doc     Document
	ttl     time.Duration
	logger  zerolog.Logger
	metrics MetricsRecorder
	now     func() time.Time

	mu        sync.RWMutex
	snapshot  *device.Table
	fetchedAt time.Time
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		name:    cfg.Name,
		doc:     cfg.Document,
		ttl:     ttl,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     now,
	}
}

// Fetch returns the table, reading the document only when the snapshot is
// missing or older than the TTL. A failed read is logged and yields an empty
// table; the previous snapshot is kept.
func (s *Store) Fetch(ctx context.Context) *device.Table {
	now := s.now()

	if table, ok := s.cached(now); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(s.name, "fetch")
		}
		return table
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.name, "fetch")
	}

	start := time.Now()
	table, err := s.doc.Read(ctx)
	if s.metrics != nil {
		s.metrics.RecordRequest(s.name, "read", time.Since(start), err)
	}
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("store", s.name).
			Msg("failed to read device table, continuing with an empty table")
		return device.NewTable()
	}

	s.mu.Lock()
	s.snapshot = table.Clone()
	s.fetchedAt = now
	s.mu.Unlock()

	return table
}

// Update overwrites the document with table. On success the snapshot is
// replaced; on failure the previous snapshot is left as it was.
func (s *Store) Update(ctx context.Context, table *device.Table) error {
	start := time.Now()
	err := s.doc.Write(ctx, table)
	if s.metrics != nil {
		s.metrics.RecordRequest(s.name, "write", time.Since(start), err)
	}
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("store", s.name).
			Int("devices", table.Len()).
			Msg("failed to write device table")
		return err
	}

	s.mu.Lock()
	s.snapshot = table.Clone()
	s.fetchedAt = s.now()
	s.mu.Unlock()

	return nil
}

// Invalidate drops the snapshot so the next Fetch reads the document.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.fetchedAt = time.Time{}
}

func (s *Store) cached(now time.Time) (*device.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil || now.Sub(s.fetchedAt) >= s.ttl {
		return nil, false
	}
	return s.snapshot.Clone(), true
}
