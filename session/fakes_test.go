package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mchiang0610/continue/engine"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeController struct {
	id string

	mu         sync.Mutex
	state      ControllerState
	open       bool
	closeCalls int
}

func newFakeController(id string) *fakeController {
	return &fakeController{id: id, open: true}
}

func (c *fakeController) ID() string { return c.id }

func (c *fakeController) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Bind(id string) {
	c.mu.Lock()
	c.state = BoundTo(id)
	c.mu.Unlock()
}

func (c *fakeController) Unbind() {
	c.mu.Lock()
	c.state = Unbound
	c.mu.Unlock()
}

func (c *fakeController) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closeCalls++
	return nil
}

func (c *fakeController) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

var errChannelGone = errors.New("channel gone")

type fakeChannel struct {
	mu        sync.Mutex
	msgs      []Message
	sendCalls int
	closed    bool
	sendErr   error
	// when set, Send waits for release or ctx
	release chan struct{}
	sent    chan Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sent: make(chan Message, 256)}
}

func (c *fakeChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	c.sendCalls++
	release := c.release
	sendErr := c.sendErr
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return errChannelGone
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sendErr != nil {
		return sendErr
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	select {
	case c.sent <- msg:
	default:
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCalls
}

func (c *fakeChannel) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

// listGate holds Store.List until released so tests can interleave a
// resume with other manager calls
type listGate struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newListGate() *listGate {
	return &listGate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *listGate) List() (map[string]struct{}, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.List()
}

// recordingFactory builds real autopilots and remembers what it was given
type recordingFactory struct {
	mu        sync.Mutex
	calls     int
	snapshots []*engine.State
	engines   []engine.Engine
}

func (f *recordingFactory) build(ctx context.Context, p engine.Policy, c engine.Controller, s *engine.State) (engine.Engine, error) {
	e, err := engine.NewAutopilot(ctx, p, c, s)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.snapshots = append(f.snapshots, s)
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func (f *recordingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *recordingFactory) lastSnapshot() *engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return nil
	}
	return f.snapshots[len(f.snapshots)-1]
}

type testEnv struct {
	m       *Manager
	store   *FileStore
	factory *recordingFactory
}

func createTestManager(t *testing.T, mutate ...func(*Options)) (*testEnv, func()) {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	factory := &recordingFactory{}
	opts := Options{
		Store:         store,
		EngineFactory: factory.build,
		SendTimeout:   time.Second,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
	return &testEnv{m: m, store: store, factory: factory}, cleanup
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func historyLen(s *Session) int {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	st, err := s.Engine.FullState(ctx)
	if err != nil {
		return -1
	}
	return len(st.History)
}
