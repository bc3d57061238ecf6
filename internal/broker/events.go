package broker

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

// Event is one entry on the broker's event stream.
type Event struct {
	Kind           types.EventKind
	Order          *types.Order
	Price          decimal.Decimal
	FilledQuantity int
}

// Handler reacts to a dispatched Event.
type Handler func(Event)

// Stream is an in-process, synchronous event dispatcher: registration is
// AddAction, delivery is Dispatch, one handler list per event kind.
type Stream struct {
	mu       sync.Mutex
	handlers map[types.EventKind][]Handler
	logger   *slog.Logger
}

// NewStream builds an empty event stream.
func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		handlers: make(map[types.EventKind][]Handler),
		logger:   logger.With("component", "event-stream"),
	}
}

// AddAction registers a handler for kind. Handlers run in registration
// order, synchronously, in the dispatching goroutine.
func (s *Stream) AddAction(kind types.EventKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Dispatch delivers evt to every handler registered for evt.Kind, in
// registration order. A handler panic is recovered, logged with its event
// kind and order id, and does not interrupt the remaining handlers or
// abort the simulation.
func (s *Stream) Dispatch(evt Event) {
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[evt.Kind]...)
	s.mu.Unlock()

	for _, h := range handlers {
		s.invoke(h, evt)
	}
}

func (s *Stream) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if evt.Order != nil {
				id = evt.Order.ID
			}
			s.logger.Error("event handler panicked", "event", evt.Kind, "order_id", id, "recovered", r)
		}
	}()
	h(evt)
}
