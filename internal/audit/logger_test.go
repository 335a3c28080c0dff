package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/database"
)

type memStore struct {
	mu     sync.Mutex
	events []database.AuditEvent
	block  chan struct{}
}

func (s *memStore) InsertAuditEvent(ctx context.Context, e database.AuditEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *memStore) all() []database.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.AuditEvent(nil), s.events...)
}

func TestLoggerPersistsEvents(t *testing.T) {
	store := &memStore{}
	logger, err := NewLogger(store, zap.NewNop(), 16)
	require.NoError(t, err)

	event := NewEvent(ActionAPIKeyCreate, "user-1", ResultSuccess).
		WithTenantID("tenant-1").
		WithClientIP("192.0.2.1").
		WithDetail("key_prefix", "fk_abc12345")
	logger.Record(event)
	require.NoError(t, logger.Close())

	rows := store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, ActionAPIKeyCreate, rows[0].Action)
	assert.Equal(t, "tenant-1", rows[0].TenantID)
	assert.Equal(t, "success", rows[0].Outcome)
	assert.Contains(t, rows[0].Metadata, "fk_abc12345")
	assert.NotEmpty(t, rows[0].ID)
}

func TestRecordNeverBlocks(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	logger, err := NewLogger(store, zap.NewNop(), 1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			logger.Record(NewEvent(ActionRequestCompleted, ActorSystem, ResultSuccess))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled store")
	}
	assert.Greater(t, logger.Dropped(), uint64(0))

	close(store.block)
	require.NoError(t, logger.Close())
}

func TestRecordAfterCloseIsNoop(t *testing.T) {
	store := &memStore{}
	logger, err := NewLogger(store, zap.NewNop(), 4)
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	logger.Record(NewEvent(ActionAPIKeyRevoke, ActorManagement, ResultSuccess))
	assert.Empty(t, store.all())
}

func TestNilStoreRejected(t *testing.T) {
	_, err := NewLogger(nil, zap.NewNop(), 4)
	assert.Error(t, err)
}
