package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lwp001/mixlab/protocol"
	"github.com/lwp001/mixlab/sym"
)

// eventBufferDepth is the per-subscriber event buffer. A subscriber that
// falls this far behind is terminated and must reconnect and re-snapshot.
const eventBufferDepth = 64

// broadcastLog fans the engine's totally-ordered event stream out to all
// session subscribers. Publishing happens only on the engine goroutine, so
// every subscriber observes the same order; the mutex covers subscribe and
// unsubscribe from session goroutines.
type broadcastLog struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan protocol.EngineEvent
	logger *zap.SugaredLogger
}

func newBroadcastLog(logger *zap.SugaredLogger) *broadcastLog {
	return &broadcastLog{
		subs:   make(map[uint64]chan protocol.EngineEvent),
		logger: logger,
	}
}

// subscribe registers a new subscriber channel.
func (l *broadcastLog) subscribe() *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	ch := make(chan protocol.EngineEvent, eventBufferDepth)
	l.subs[l.nextID] = ch

	return &Subscription{C: ch, id: l.nextID, log: l}
}

// publish sends an event to every subscriber. A subscriber whose buffer is
// full is dropped: its channel is closed and removed, signalling the session
// to reconnect.
func (l *broadcastLog) publish(ev protocol.EngineEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			delete(l.subs, id)
			close(ch)
			l.logger.Warnw(sym.Session+" Terminating slow event subscriber",
				"subscriber", id,
				"buffer", eventBufferDepth,
			)
		}
	}
}

func (l *broadcastLog) unsubscribe(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.subs[id]; ok {
		delete(l.subs, id)
		close(ch)
	}
}

// Subscription is one session's view of the engine event stream. C is closed
// when the subscription ends, either by Close or because the subscriber fell
// too far behind.
type Subscription struct {
	C   <-chan protocol.EngineEvent
	id  uint64
	log *broadcastLog
}

// Close ends the subscription and closes C.
func (s *Subscription) Close() {
	s.log.unsubscribe(s.id)
}
