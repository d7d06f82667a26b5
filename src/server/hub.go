package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"coinwatch/src/helpers"
	"coinwatch/src/logger"
	"coinwatch/src/models"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Broadcast Hub
// -----------------------------------------------------------------------------
// Single-owner registry of push subscribers. One hub goroutine owns the
// subscriber set; transports (SSE, websocket) only talk to it through the
// register/unregister/broadcast channels. A slow subscriber is dropped rather
// than allowed to block the fan-out.

// subscriberBuffer is the minimum event backlog a subscriber may lag behind
// before it is considered slow.
const subscriberBuffer = 256

// ErrCapacity is returned when the global subscriber cap is reached.
var ErrCapacity error = &helpers.CapacityError{
	CoinwatchError: helpers.CoinwatchError{Message: "subscriber capacity reached"},
}

// Subscriber is one active push connection, transport-agnostic. Events arrive
// pre-encoded on send; the channel is closed by the hub on teardown.
type Subscriber struct {
	ID        string
	IP        string
	CreatedAt time.Time
	send      chan []byte
}

// Events returns the subscriber's event stream.
func (s *Subscriber) Events() <-chan []byte {
	return s.send
}

type subscribeRequest struct {
	sub   *Subscriber
	reply chan error
}

type Hub struct {
	Config *models.MConfig
	Logger *logger.Entry

	register    chan subscribeRequest
	unregister  chan *Subscriber
	broadcast   chan []byte
	subscribers map[*Subscriber]struct{}
	done        chan struct{}

	// Latest complete snapshot, swapped atomically under stateMutex. Replay
	// reads it inside the hub goroutine, so a join always sees either the
	// previous complete snapshot or the new one, never a torn state.
	latestSnapshot models.MSnapshot
	stateMutex     sync.RWMutex

	activeCount int64
	countMutex  sync.RWMutex

	// activate kicks the scheduler when a subscriber joins while the snapshot
	// is still empty (lazy activation). Set once during wiring.
	activate func()
}

// -----------------------------------------------------------------------------

func NewHub(cfg *models.MConfig, log *logger.Log) *Hub {
	return &Hub{
		Config:      cfg,
		Logger:      log.WithComponent("hub"),
		register:    make(chan subscribeRequest),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan []byte, 256),
		subscribers: make(map[*Subscriber]struct{}),
		done:        make(chan struct{}),
	}
}

// SetActivate installs the lazy-activation kick. Must be called before Run.
func (h *Hub) SetActivate(fn func()) {
	h.activate = fn
}

// -----------------------------------------------------------------------------

// Run is the hub loop. It exits when ctx is cancelled, tearing down every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case req := <-h.register:
			if len(h.subscribers) >= h.Config.Limits.MaxSSEConnections {
				req.reply <- ErrCapacity
				continue
			}
			h.stateMutex.RLock()
			snapshot := h.latestSnapshot
			h.stateMutex.RUnlock()

			// The send channel is sized to the snapshot so the replay can
			// never truncate, even before the transport starts reading.
			buf := subscriberBuffer
			if len(snapshot) > buf {
				buf = len(snapshot)
			}
			req.sub.send = make(chan []byte, buf)

			h.subscribers[req.sub] = struct{}{}
			h.setActiveCount(len(h.subscribers))

			// Replay-on-join: queue the full current snapshot before any
			// incremental pushes. The hub goroutine owns both the replay and
			// the broadcast fan-out, so nothing can interleave here and the
			// buffered sends cannot block.
			for _, metrics := range snapshot {
				if data, err := json.Marshal(metrics); err == nil {
					req.sub.send <- data
				}
			}

			// Empty snapshot: this join is responsible for waking the
			// refresh cycle.
			if len(snapshot) == 0 && h.activate != nil {
				h.activate()
			}

			req.reply <- nil

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
				h.setActiveCount(len(h.subscribers))
			}

		case message := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// Subscriber too slow; drop it so the fan-out never blocks.
					delete(h.subscribers, sub)
					close(sub.send)
					h.Logger.WithFields(logger.Fields{"id": sub.ID, "ip": sub.IP}).
						Info("dropped slow subscriber")
				}
			}
			h.setActiveCount(len(h.subscribers))

		case <-ctx.Done():
			for sub := range h.subscribers {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			h.setActiveCount(0)
			close(h.done)
			return
		}
	}
}

// -----------------------------------------------------------------------------

// Subscribe registers a new push connection, delivering the snapshot replay.
// Rejects with ErrCapacity at the global cap; the failed subscriber holds no
// resources.
func (h *Hub) Subscribe(remoteIP string) (*Subscriber, error) {
	// The send channel is allocated by the hub loop at registration, sized to
	// the snapshot it replays.
	sub := &Subscriber{
		ID:        uuid.NewString(),
		IP:        remoteIP,
		CreatedAt: time.Now(),
	}

	reply := make(chan error)
	select {
	case h.register <- subscribeRequest{sub: sub, reply: reply}:
	case <-h.done:
		return nil, errors.New("hub is shut down")
	}
	if err := <-reply; err != nil {
		return nil, err
	}

	h.Logger.WithFields(logger.Fields{"id": sub.ID, "ip": remoteIP}).Info("subscriber joined")
	return sub, nil
}

// -----------------------------------------------------------------------------

// Unsubscribe releases the subscriber. Idempotent: unknown or already-removed
// handles are ignored by the hub loop.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// -----------------------------------------------------------------------------

// PublishSnapshot swaps in the new snapshot for replay and fans out one event
// per changed asset. Metrics and their change records travel in the same
// message, so a subscriber can never pair stale changes with newer values.
func (h *Hub) PublishSnapshot(snapshot models.MSnapshot, updates []*models.MAssetMetrics) {
	h.stateMutex.Lock()
	h.latestSnapshot = snapshot
	h.stateMutex.Unlock()

	for _, metrics := range updates {
		data, err := json.Marshal(metrics)
		if err != nil {
			h.Logger.WithError(err).WithFields(logger.Fields{"symbol": metrics.Symbol}).
				Error("failed to encode update")
			continue
		}
		// A cycle finishing after shutdown must not wedge its goroutine on a
		// full broadcast channel.
		select {
		case h.broadcast <- data:
		case <-h.done:
			return
		}
	}
}

// -----------------------------------------------------------------------------

// ActiveCount reports the current subscriber count (for the status endpoint).
func (h *Hub) ActiveCount() int {
	h.countMutex.RLock()
	defer h.countMutex.RUnlock()
	return int(h.activeCount)
}

func (h *Hub) setActiveCount(n int) {
	h.countMutex.Lock()
	h.activeCount = int64(n)
	h.countMutex.Unlock()
}
