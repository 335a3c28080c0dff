package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/visagelab/facegate/internal/database"
)

// Store persists audit rows. Implemented by the database package.
type Store interface {
	InsertAuditEvent(ctx context.Context, e database.AuditEvent) error
}

// Logger buffers audit events and persists them off the request path.
// Record never blocks; events are dropped (and counted) when the buffer
// is full, never the request.
type Logger struct {
	store  Store
	log    *zap.Logger
	ch     chan *Event
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool

	dropped uint64
}

// NewLogger creates an audit logger backed by the given store. bufferSize
// bounds the number of in-flight events.
func NewLogger(store Store, log *zap.Logger, bufferSize int) (*Logger, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store cannot be nil")
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	l := &Logger{
		store: store,
		log:   log,
		ch:    make(chan *Event, bufferSize),
	}
	l.wg.Add(1)
	go l.drain()
	return l, nil
}

// Record enqueues an audit event. It is safe to call from handlers and
// never blocks on the store.
func (l *Logger) Record(event *Event) {
	if event == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	select {
	case l.ch <- event:
	default:
		l.dropped++
		if l.log != nil {
			l.log.Warn("audit buffer full, event dropped", zap.String("action", event.Action))
		}
	}
	l.mu.Unlock()
}

// Dropped returns the number of events lost to a full buffer.
func (l *Logger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for event := range l.ch {
		row := database.AuditEvent{
			ID:        uuid.NewString(),
			Timestamp: event.Timestamp,
			Action:    event.Action,
			Actor:     event.Actor,
			TenantID:  event.TenantID,
			UserID:    event.UserID,
			ClientIP:  event.ClientIP,
			Method:    event.Method,
			Path:      event.Path,
			Status:    event.Status,
			UserAgent: event.UserAgent,
			Outcome:   string(event.Result),
			Detail:    event.Detail,
			Metadata:  event.MetadataJSON(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.InsertAuditEvent(ctx, row); err != nil && l.log != nil {
			l.log.Error("failed to persist audit event",
				zap.String("action", event.Action), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for the buffer to flush.
func (l *Logger) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.ch)
		l.wg.Wait()
	})
	return nil
}
