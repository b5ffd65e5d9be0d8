package referral

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"giveaway_ref_bot/store"
)

// MockOracle is a mock implementation of Oracle
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) IsMember(ctx context.Context, userID int64, channel Channel) (bool, error) {
	args := m.Called(ctx, userID, channel)
	return args.Bool(0), args.Error(1)
}

// MockMessenger is a mock implementation of Messenger
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendProgress(ctx context.Context, userID int64, channel Channel, count, threshold int) error {
	args := m.Called(ctx, userID, channel, count, threshold)
	return args.Error(0)
}

func (m *MockMessenger) SendQualified(ctx context.Context, userID int64, channel Channel) error {
	args := m.Called(ctx, userID, channel)
	return args.Error(0)
}

// flakyStore wraps MemoryStore and fails writes while failWrites is set
// or when failOn accepts the ordinal of the write (starting at 1)
type flakyStore struct {
	*store.MemoryStore
	failWrites atomic.Bool
	failOn     func(n int32) bool
	writes     atomic.Int32
	readErr    error
}

func (s *flakyStore) GetRow(ctx context.Context, key store.Key) (*store.Row, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.MemoryStore.GetRow(ctx, key)
}

func (s *flakyStore) UpsertRow(ctx context.Context, row *store.Row) error {
	n := s.writes.Add(1)
	if s.failWrites.Load() || (s.failOn != nil && s.failOn(n)) {
		return errors.New("sheets: 503 backend unavailable")
	}
	return s.MemoryStore.UpsertRow(ctx, row)
}

var (
	kino  = Channel{Key: "kino", Handle: "@KinoTochkaUA"}
	films = Channel{Key: "films", Handle: "@KinoTochkaFilms"}
)

func testChannels(t *testing.T) *Channels {
	t.Helper()
	cs, err := NewChannels([]Channel{kino, films})
	require.NoError(t, err)
	return cs
}

func testOptions() Options {
	return Options{
		BotLink:       "https://t.me/GiveawayKinoBot",
		ReadRetries:   2,
		NotifyRetries: 2,
		NewBackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func newTestEngine(t *testing.T, rows store.RowStore) (*Engine, *MockOracle, *MockMessenger) {
	t.Helper()
	oracle := &MockOracle{}
	messenger := &MockMessenger{}
	return New(rows, oracle, messenger, testChannels(t), testOptions()), oracle, messenger
}
