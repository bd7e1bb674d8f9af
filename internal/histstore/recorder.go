package histstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/worldlens/dashboard/internal/selection"
)

// RecorderConfig contains configuration for the history recorder.
type RecorderConfig struct {
	SQLitePath    string
	Retention     time.Duration // how long records are kept (default 7 days)
	CleanupPeriod time.Duration // how often expired records are removed (default 1h)
	QueueSize     int
}

// Recorder writes selection changes to the store from a single background
// goroutine so broadcasts never wait on disk I/O.
type Recorder struct {
	cfg      RecorderConfig
	store    *Store
	log      *zap.Logger
	queue    chan Record
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	now      func() time.Time
}

// NewRecorder opens the store and returns a recorder that is not yet
// running.
func NewRecorder(cfg RecorderConfig, log *zap.Logger) (*Recorder, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}

	store, err := NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		cfg:    cfg,
		store:  store,
		log:    log.Named("history"),
		queue:  make(chan Record, cfg.QueueSize),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}, nil
}

// Store returns the underlying store for direct access.
func (r *Recorder) Store() *Store {
	return r.store
}

// Start starts the writer and the cleanup ticker.
func (r *Recorder) Start() {
	r.wg.Add(2)
	go r.writer()
	go r.cleaner()
}

// Stop drains pending records and closes the store.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.stopCh)
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
		if err := r.store.Close(); err != nil {
			r.log.Warn("close store", zap.Error(err))
		}
	})
}

// Observe is a selection.Broadcaster observer. Intermediate (live brush)
// changes are not recorded.
func (r *Recorder) Observe(c selection.Change) {
	if !c.Final {
		return
	}
	rec := Record{
		ID:        uuid.NewString(),
		Revision:  c.Revision,
		Origin:    c.Origin,
		Kind:      c.Selection.Kind().String(),
		IDs:       c.Selection.IDs(),
		Size:      c.Selection.Len(),
		CreatedAt: c.At,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.log.Warn("history queue full, dropping record", zap.Uint64("revision", rec.Revision))
	}
}

// Recent returns up to limit records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	return r.store.List(ctx, limit)
}

func (r *Recorder) writer() {
	defer r.wg.Done()
	for rec := range r.queue {
		if err := r.store.Append(context.Background(), rec); err != nil {
			r.log.Error("append record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

func (r *Recorder) cleaner() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *Recorder) cleanup() {
	deleted, err := r.store.DeleteOlderThan(context.Background(), r.now().Add(-r.cfg.Retention))
	if err != nil {
		r.log.Error("cleanup", zap.Error(err))
	} else if deleted > 0 {
		r.log.Info("cleaned up expired records", zap.Int64("deleted", deleted))
	}
}
