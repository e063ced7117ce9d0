package gtfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FeedState tracks the lifecycle of a provider's static feed.
type FeedState int32

const (
	StateEmpty FeedState = iota
	StateLoading
	StateReady
	StateReloading
)

func (s FeedState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	}
	return "unknown"
}

// Manager owns the current Feed snapshot for one provider and drives
// reloads. Readers get the snapshot through Current without taking a
// lock; a reload builds a complete new Feed and swaps the pointer, so
// in-flight requests keep the snapshot they started with. A failed
// reload leaves the previous snapshot serving.
type Manager struct {
	Logger    *zap.Logger
	Loader    *Loader
	StaticURL string
	Headers   map[string]string
	StaticTTL time.Duration

	mu      sync.Mutex // serializes Load
	state   atomic.Int32
	current atomic.Pointer[Feed]
}

func NewManager(logger *zap.Logger, loader *Loader, staticURL string, staticTTL time.Duration) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		Logger:    logger,
		Loader:    loader,
		StaticURL: staticURL,
		StaticTTL: staticTTL,
	}
}

func (m *Manager) State() FeedState {
	return FeedState(m.state.Load())
}

// Current returns the active snapshot, or ErrFeedNotReady when no load
// has completed yet.
func (m *Manager) Current() (*Feed, error) {
	feed := m.current.Load()
	if feed == nil {
		return nil, ErrFeedNotReady
	}
	return feed, nil
}

// Load downloads (if due) and loads the static bundle, then swaps it
// in. When a snapshot is already serving and the reload fails, the old
// snapshot stays active and the error is returned for logging only.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current.Load()
	if previous == nil {
		m.state.Store(int32(StateLoading))
	} else {
		m.state.Store(int32(StateReloading))
	}

	feed, err := m.Loader.LoadURL(ctx, m.StaticURL, m.Headers, m.StaticTTL)
	if err != nil {
		if previous != nil {
			m.state.Store(int32(StateReady))
			m.Logger.Warn("feed reload failed, keeping previous snapshot",
				zap.String("url", m.StaticURL),
				zap.Error(err))
		} else {
			m.state.Store(int32(StateEmpty))
		}
		return err
	}

	if previous != nil && previous.Hash == feed.Hash {
		m.state.Store(int32(StateReady))
		m.Logger.Debug("feed unchanged", zap.String("hash", feed.Hash))
		return nil
	}

	m.current.Store(feed)
	m.state.Store(int32(StateReady))
	m.Logger.Info("feed snapshot active",
		zap.String("hash", feed.Hash),
		zap.Time("retrieved_at", feed.RetrievedAt))
	return nil
}

// Run reloads the feed every interval until the context is cancelled.
// An initial load is attempted immediately.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if err := m.Load(ctx); err != nil {
		m.Logger.Error("initial feed load failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Load(ctx); err != nil {
				m.Logger.Error("feed reload failed", zap.Error(err))
			}
		}
	}
}
