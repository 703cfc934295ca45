// Package directory is the per-process object payload store. It is pure
// local key-value storage: lifetime decisions are made elsewhere and arrive
// only as Evict calls.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/refmesh/refmesh/pkg/models"
)

// Directory stores payloads keyed by ObjectID. Eviction leaves a tombstone:
// a read after free must fail with an explicit Reclaimed error, never
// silently succeed or return stale bytes.
type Directory struct {
	payloads   map[models.ObjectID][]byte
	tombstones map[models.ObjectID]time.Time
	mu         sync.RWMutex

	config Config
	closer chan struct{}
	once   sync.Once
}

func NewDirectory(options ...Option) *Directory {
	config := Config{
		sweepInterval:      time.Minute,
		tombstoneRetention: time.Hour,
	}
	for _, opt := range options {
		opt(&config)
	}
	if config.clock == nil {
		config.clock = clock.New()
	}

	d := &Directory{
		payloads:   make(map[models.ObjectID][]byte),
		tombstones: make(map[models.ObjectID]time.Time),
		config:     config,
		closer:     make(chan struct{}),
	}
	// Register the ticker with the clock before returning so callers using a
	// mock clock can advance time immediately after construction.
	ticker := config.clock.Ticker(config.sweepInterval)
	go d.sweep(ticker)
	return d
}

// Put stores a payload. Payloads are immutable: a second Put for the same
// ID is accepted only as an idempotent duplicate delivery.
func (d *Directory) Put(ctx context.Context, id models.ObjectID, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, evicted := d.tombstones[id]; evicted {
		return models.NewErrReclaimed(id)
	}
	d.payloads[id] = payload
	return nil
}

// Get returns the payload for id, NotFound when it was never stored here,
// or Reclaimed when it was evicted.
func (d *Directory) Get(ctx context.Context, id models.ObjectID) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, evicted := d.tombstones[id]; evicted {
		return nil, models.NewErrReclaimed(id)
	}
	payload, ok := d.payloads[id]
	if !ok {
		return nil, models.NewErrObjectNotFound(id)
	}
	return payload, nil
}

// Has reports whether the payload is present locally.
func (d *Directory) Has(ctx context.Context, id models.ObjectID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.payloads[id]
	return ok
}

// Evict frees the payload's storage and records a tombstone.
func (d *Directory) Evict(ctx context.Context, id models.ObjectID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.payloads, id)
	d.tombstones[id] = d.config.clock.Now()
	log.Ctx(ctx).Debug().Str("object", id.ShortID()).Msg("evicted payload")
}

// Len returns the number of stored payloads.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.payloads)
}

func (d *Directory) Close() {
	d.once.Do(func() {
		close(d.closer)
	})
}

// sweep compacts tombstones older than the retention window.
func (d *Directory) sweep(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-d.closer:
			return
		case <-ticker.C:
			cutoff := d.config.clock.Now().Add(-d.config.tombstoneRetention)
			d.mu.Lock()
			for id, evictedAt := range d.tombstones {
				if evictedAt.Before(cutoff) {
					delete(d.tombstones, id)
				}
			}
			d.mu.Unlock()
		}
	}
}
