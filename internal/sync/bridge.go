package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/document"
	"github.com/pairpad/pairpad/internal/rooms"
)

// Store is the durable backing for serialized room document state.
type Store interface {
	LoadState(ctx context.Context, code rooms.RoomCode) ([]byte, error)
	SaveState(ctx context.Context, code rooms.RoomCode, state []byte) error
}

const (
	saverBaseBackoff = time.Second
	saverMaxBackoff  = 30 * time.Second
)

// saver is the write half of the persistence bridge. It serializes the full
// document state after every update, on its own goroutine so a storage outage
// never stalls the live editing path. Failed writes are logged and retried
// with exponential backoff; durability is best effort.
type saver struct {
	code    rooms.RoomCode
	session *document.Session
	store   Store
	logger  *zap.Logger

	dirty chan struct{}
	done  chan struct{}
	idle  chan struct{}

	closeOnce sync.Once
}

func newSaver(code rooms.RoomCode, session *document.Session, store Store, logger *zap.Logger) *saver {
	s := &saver{
		code:    code,
		session: session,
		store:   store,
		logger:  logger,
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		idle:    make(chan struct{}),
	}
	go s.run()
	return s
}

// MarkDirty schedules a save of the current state. Pending marks collapse
// into one queued save.
func (s *saver) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Close stops the saver after attempting one final save. Repeated closes are
// no-ops.
func (s *saver) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.idle
	})
}

func (s *saver) run() {
	defer close(s.idle)
	for {
		select {
		case <-s.done:
			s.saveOnce()
			return
		case <-s.dirty:
			s.saveWithRetry()
		}
	}
}

func (s *saver) saveOnce() {
	if err := s.store.SaveState(context.Background(), s.code, s.session.Save()); err != nil {
		s.logger.Warn("final room state save failed",
			zap.String("room_code", s.code.String()),
			zap.Error(err))
	}
}

func (s *saver) saveWithRetry() {
	backoff := saverBaseBackoff
	for {
		err := s.store.SaveState(context.Background(), s.code, s.session.Save())
		if err == nil {
			return
		}
		s.logger.Warn("room state save failed",
			zap.String("room_code", s.code.String()),
			zap.Duration("retry_in", backoff),
			zap.Error(err))
		select {
		case <-s.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > saverMaxBackoff {
			backoff = saverMaxBackoff
		}
	}
}
