package services

import (
	"context"
	"log"
	"sync"
	"time"

	"power-backend/internal/models"
)

// SnapshotStore is the persistence backend used by SnapshotService
type SnapshotStore interface {
	Load(ctx context.Context) (models.Snapshot, error)
	Save(ctx context.Context, snap models.Snapshot) error
}

// SnapshotServiceConfig holds configuration for the snapshot service
type SnapshotServiceConfig struct {
	WriteTimeout time.Duration
	// OnFailure is called with every failed write. Optional.
	OnFailure func(err error)
}

// DefaultSnapshotServiceConfig returns default configuration
func DefaultSnapshotServiceConfig() SnapshotServiceConfig {
	return SnapshotServiceConfig{
		WriteTimeout: 10 * time.Second,
	}
}

// SnapshotService writes the registry to its store whenever a change is
// signalled. Requests arriving while a write is in flight coalesce into a
// single follow-up write.
type SnapshotService struct {
	store  SnapshotStore
	config SnapshotServiceConfig

	sourceMu sync.RWMutex
	source   func() models.Snapshot

	// writeMu serializes the background loop with explicit Flush calls
	writeMu  sync.Mutex
	requests chan struct{}
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(store SnapshotStore, config SnapshotServiceConfig) *SnapshotService {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultSnapshotServiceConfig().WriteTimeout
	}
	return &SnapshotService{
		store:    store,
		config:   config,
		requests: make(chan struct{}, 1),
	}
}

// SetSource sets the function producing the snapshot to persist
func (s *SnapshotService) SetSource(fn func() models.Snapshot) {
	s.sourceMu.Lock()
	defer s.sourceMu.Unlock()
	s.source = fn
}

// Load reads the persisted snapshot from the store
func (s *SnapshotService) Load(ctx context.Context) (models.Snapshot, error) {
	return s.store.Load(ctx)
}

// Request asks for a flush. It never blocks; a pending request absorbs it.
func (s *SnapshotService) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Start processes flush requests until the context is cancelled
func (s *SnapshotService) Start(ctx context.Context) {
	log.Println("SnapshotService: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("SnapshotService: Context cancelled, shutting down...")
			return
		case <-s.requests:
			writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
			if err := s.Flush(writeCtx); err != nil {
				log.Printf("SnapshotService: Error persisting snapshot: %v", err)
			}
			cancel()
		}
	}
}

// Flush takes a snapshot and writes it synchronously. No device lock is held
// during the write.
func (s *SnapshotService) Flush(ctx context.Context) error {
	s.sourceMu.RLock()
	source := s.source
	s.sourceMu.RUnlock()
	if source == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := source()
	if err := s.store.Save(ctx, snap); err != nil {
		if s.config.OnFailure != nil {
			s.config.OnFailure(err)
		}
		return err
	}
	return nil
}
