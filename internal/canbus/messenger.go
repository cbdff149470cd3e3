package canbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/types"
	"go.uber.org/zap"
)

// Listener receives every decoded message that passes its filter. Calls
// are serialized on the messenger's read goroutine and must not block.
type Listener func(msg Message, id ArbitrationID)

// Filter selects messages by arbitration id. A nil filter accepts all.
type Filter func(id ArbitrationID) bool

// FromNodes accepts messages originating at any of nodes.
func FromNodes(nodes ...types.NodeID) Filter {
	set := make(map[types.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	return func(id ArbitrationID) bool {
		_, ok := set[id.Origin()]
		return ok
	}
}

// OfKind accepts messages with any of the given ids.
func OfKind(ids ...MessageID) Filter {
	return func(id ArbitrationID) bool {
		m := id.Parts().MessageID
		for _, want := range ids {
			if m == want {
				return true
			}
		}
		return false
	}
}

// All combines filters with logical and.
func All(filters ...Filter) Filter {
	return func(id ArbitrationID) bool {
		for _, f := range filters {
			if f != nil && !f(id) {
				return false
			}
		}
		return true
	}
}

type listenerEntry struct {
	fn     Listener
	filter Filter
}

// Messenger sends messages to nodes and fans received messages out to
// registered listeners.
type Messenger struct {
	driver Driver
	fd     bool
	logger *zap.Logger

	index atomic.Uint32

	listenersMu  sync.RWMutex
	listeners    map[uint64]listenerEntry
	nextListener uint64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMessenger(driver Driver, fd bool, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		driver:    driver,
		fd:        fd,
		logger:    logger,
		listeners: make(map[uint64]listenerEntry),
	}
}

// Start launches the read loop.
func (m *Messenger) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopChan = make(chan struct{})
	m.running = true
	m.wg.Add(1)

	go m.readLoop(ctx)

	m.logger.Info("Messenger started", zap.Bool("fd", m.fd))
	return nil
}

// Stop ends the read loop and waits for it to exit. The driver is left
// open.
func (m *Messenger) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Messenger stopped")
}

func (m *Messenger) readLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		frame, err := m.driver.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("Bus read failed", zap.Error(err))
			select {
			case <-m.stopChan:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Messenger) dispatch(frame *Frame) {
	msg, err := Decode(frame.ID.Parts().MessageID, frame.Data)
	if err != nil {
		m.logger.Debug("Dropping undecodable frame",
			zap.Stringer("arbitration_id", frame.ID),
			zap.Error(err))
		return
	}

	m.logger.Debug("Message received",
		zap.Stringer("arbitration_id", frame.ID),
		zap.Stringer("message", msg.ID()),
		zap.Uint32("message_index", msg.Index()))

	m.listenersMu.RLock()
	entries := make([]listenerEntry, 0, len(m.listeners))
	for _, e := range m.listeners {
		entries = append(entries, e)
	}
	m.listenersMu.RUnlock()

	for _, e := range entries {
		if e.filter == nil || e.filter(frame.ID) {
			e.fn(msg, frame.ID)
		}
	}
}

func (m *Messenger) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// AddListener registers fn and returns the function that removes it.
// The remove function is safe to call more than once.
func (m *Messenger) AddListener(fn Listener, filter Filter) func() {
	m.listenersMu.Lock()
	m.nextListener++
	key := m.nextListener
	m.listeners[key] = listenerEntry{fn: fn, filter: filter}
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, key)
		m.listenersMu.Unlock()
	}
}

// ListenerCount reports how many listeners are registered.
func (m *Messenger) ListenerCount() int {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	return len(m.listeners)
}

// Send assigns msg a fresh message index and writes it to node.
func (m *Messenger) Send(ctx context.Context, node types.NodeID, msg Message) error {
	msg.SetIndex(m.index.Add(1))
	return m.write(ctx, node, msg)
}

func (m *Messenger) write(ctx context.Context, node types.NodeID, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	frame := &Frame{
		ID: NewArbitrationID(ArbitrationParts{
			FunctionCode: FunctionNetworkManagement,
			NodeID:       node,
			Originating:  types.NodeHost,
			MessageID:    msg.ID(),
		}),
		Data: data,
		FD:   m.fd,
	}

	if err := m.driver.Send(ctx, frame); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.ID(), node, err)
	}

	m.logger.Debug("Message sent",
		zap.Stringer("node", node),
		zap.Stringer("message", msg.ID()),
		zap.Uint32("message_index", msg.Index()))

	return nil
}

// EnsureSend writes msg to node and waits until every expected node has
// acknowledged it. An ErrorMessage carrying the same message index from
// an expected node fails the request.
func (m *Messenger) EnsureSend(ctx context.Context, node types.NodeID, msg Message, expected []types.NodeID, timeout time.Duration) error {
	msg.SetIndex(m.index.Add(1))
	if len(expected) == 0 {
		return m.write(ctx, node, msg)
	}
	if !m.isRunning() {
		return ErrMessengerStopped
	}

	index := msg.Index()
	pending := make(map[types.NodeID]struct{}, len(expected))
	for _, n := range expected {
		pending[n] = struct{}{}
	}

	var (
		mu       sync.Mutex
		rejected error
		done     = make(chan struct{})
		closed   bool
	)
	finish := func() {
		if !closed {
			closed = true
			close(done)
		}
	}

	remove := m.AddListener(func(reply Message, id ArbitrationID) {
		if reply.Index() != index {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		origin := id.Origin()
		if _, ok := pending[origin]; !ok {
			return
		}
		switch r := reply.(type) {
		case *Acknowledgement:
			delete(pending, origin)
			if len(pending) == 0 {
				finish()
			}
		case *ErrorMessage:
			rejected = fmt.Errorf("%w: %s reported %s (%s)", ErrRequestRejected, origin, r.ErrorCode, r.Severity)
			finish()
		}
	}, FromNodes(expected...))
	defer remove()

	if err := m.write(ctx, node, msg); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return rejected
	case <-timer.C:
		mu.Lock()
		missing := make([]types.NodeID, 0, len(pending))
		for n := range pending {
			missing = append(missing, n)
		}
		mu.Unlock()
		return fmt.Errorf("%w: %s to %s, no ack from %v", ErrAckTimeout, msg.ID(), node, types.SortNodes(missing))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAckTimeout reports whether err came from an unanswered EnsureSend.
func IsAckTimeout(err error) bool {
	return errors.Is(err, ErrAckTimeout)
}
