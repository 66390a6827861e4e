package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/laurentenhoor/devclaw/internal/session"
)

// SentTask records one task delivery.
type SentTask struct {
	Key     string
	Message string
	Opts    session.SendOptions
}

// FakeSessions is an in-memory session registry. Live starts empty (known,
// nothing alive); set it to nil to simulate an unreachable session layer.
type FakeSessions struct {
	mu      sync.Mutex
	Live    session.LiveKeys
	Usage   map[string]float64
	Ensured []string
	Sent    []SentTask
	Deleted []string
	ListErr error
}

// NewFakeSessions returns a registry with an empty live set.
func NewFakeSessions() *FakeSessions {
	return &FakeSessions{Live: session.LiveKeys{}}
}

func (f *FakeSessions) EnsureSession(_ context.Context, key, _, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ensured = append(f.Ensured, key)
	if f.Live != nil {
		f.Live[key] = struct{}{}
	}
	return nil
}

func (f *FakeSessions) SendToSession(_ context.Context, key, message string, opts session.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, SentTask{Key: key, Message: message, Opts: opts})
	return nil
}

func (f *FakeSessions) DeleteSession(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, key)
	delete(f.Live, key)
	return nil
}

func (f *FakeSessions) ListLiveSessionKeys(context.Context) (session.LiveKeys, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if f.Live == nil {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(session.LiveKeys, len(f.Live))
	for k := range f.Live {
		out[k] = struct{}{}
	}
	return out, nil
}

func (f *FakeSessions) SessionContextUsage(_ context.Context, key string) (float64, error) {
	if f.Usage == nil {
		return 0, nil
	}
	return f.Usage[key], nil
}

var _ session.Registry = (*FakeSessions)(nil)
