package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OfficialDeepSwap/A2A/internal/ledger"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

func newTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "a2a.db")
	s, err := NewSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, path
}

func addr(b byte) models.Address {
	var a models.Address
	a[19] = b
	return a
}

func TestSQLiteEmptyLoad(t *testing.T) {
	s, _ := newTestSQLite(t)
	require.NoError(t, s.Ping(context.Background()))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Agents)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Threads)
	assert.Zero(t, snap.MessageCounter)
}

func TestSQLiteLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := newTestSQLite(t)
	clock := ledger.NewManualClock(time.Unix(1_700_000_000, 0))
	l := ledger.New(ledger.WithClock(clock), ledger.WithPersister(s))

	alice, bob := addr(1), addr(2)
	_, err := l.Register(ctx, alice, "Alice", "pk-a", []string{"x", "y"})
	require.NoError(t, err)
	_, err = l.Register(ctx, bob, "Bob", "pk-b", nil)
	require.NoError(t, err)

	first, err := l.SendMessage(ctx, alice, ledger.SendRequest{
		Recipient:        bob,
		EncryptedContent: []byte{0x00, 0x01, 0xff},
		ContentHash:      models.Hash{0xab},
		TTLSeconds:       30,
		Type:             models.TypeRequest,
	})
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, bob, ledger.SendRequest{Recipient: alice, EncryptedContent: []byte("reply")})
	require.NoError(t, err)
	require.NoError(t, l.MarkAsRead(ctx, bob, first))
	_, err = l.AdjustReputation(ctx, bob, alice, -40)
	require.NoError(t, err)
	require.NoError(t, l.Deactivate(ctx, bob))

	want := l.Snapshot()

	// Reopen the file to make sure everything reached disk.
	s.Close()
	reopened, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(reopened.Close)

	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	restored := ledger.New(ledger.WithClock(clock), ledger.WithPersister(reopened))
	require.NoError(t, restored.Restore(got))
	assert.Equal(t, l.Stats(), restored.Stats())
	assert.Equal(t, []models.Address{alice}, restored.SearchByCapability("y"))

	agent, err := restored.Agent(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(61), agent.Reputation)
}

type brokenStore struct {
	*SQLiteStore
}

func (brokenStore) Apply(context.Context, *models.ChangeSet) error {
	return errors.New("write failed")
}

func TestSQLiteRollbackKeepsStoreAndLedgerInStep(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSQLite(t)
	l := ledger.New(ledger.WithPersister(s))
	_, err := l.Register(ctx, addr(1), "Alice", "pk", nil)
	require.NoError(t, err)

	broken := ledger.New(ledger.WithPersister(brokenStore{s}))
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, broken.Restore(snap))

	_, err = broken.Register(ctx, addr(2), "Bob", "pk", nil)
	require.Error(t, err)
	assert.Equal(t, 1, broken.AgentCount())

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Agents, 1)
}

func TestCapabilitiesEncoding(t *testing.T) {
	enc, err := encodeCapabilities(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", enc)

	caps, err := decodeCapabilities(enc)
	require.NoError(t, err)
	assert.Nil(t, caps)

	enc, err = encodeCapabilities([]string{"a", "b,c"})
	require.NoError(t, err)
	caps, err = decodeCapabilities(enc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b,c"}, caps)

	_, err = decodeCapabilities("{")
	assert.Error(t, err)
}
