package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mchiang0610/continue/engine"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/metrics"
	"golang.org/x/sync/singleflight"
)

// SessionEventType represents the type of session event
type SessionEventType string

const (
	SessionEventCreated   SessionEventType = "created"
	SessionEventResumed   SessionEventType = "resumed"
	SessionEventRemoved   SessionEventType = "removed"
	SessionEventPersisted SessionEventType = "persisted"
	SessionEventDiscarded SessionEventType = "discarded"
)

// SessionEvent represents a change in session lifecycle
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	SessionID string           `json:"sessionId"`
}

// SessionEventCallback is called when session state changes
type SessionEventCallback func(event SessionEvent)

// PersistIndex records snapshot writes for listing. The snapshot file stays
// the source of truth; index failures are logged and ignored.
type PersistIndex interface {
	RecordPersisted(id string, sizeBytes int64, at time.Time) error
	DeletePersisted(id string) error
}

const (
	defaultOutboxSize  = 64
	defaultSendTimeout = 5 * time.Second
)

// Options configures a Manager. Store is required.
type Options struct {
	Store         Store
	EngineFactory engine.Factory
	Policy        engine.Policy
	Metrics       *metrics.Metrics
	Index         PersistIndex

	// OutboxSize bounds queued state updates per session
	OutboxSize int
	// SendTimeout bounds a single channel send
	SendTimeout time.Duration

	// KeepEngineOnRemove leaves the engine run loop going after RemoveSession.
	// By default removal cancels it.
	KeepEngineOnRemove bool
	// ClearControllerOnRemove drops the controller registry entry on removal,
	// which makes the session non-resumable until the IDE opens it again.
	ClearControllerOnRemove bool
}

// Manager owns every in-memory session and the controller that created it.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	controllers *ControllerRegistry
	closed      bool

	store   Store
	factory engine.Factory
	policy  engine.Policy
	metrics *metrics.Metrics
	index   PersistIndex

	outboxSize              int
	sendTimeout             time.Duration
	keepEngineOnRemove      bool
	clearControllerOnRemove bool

	// Serializes resume/create per session id
	resumeGroup singleflight.Group

	// Event subscribers
	subscribersMu sync.RWMutex
	subscribers   map[chan SessionEvent]struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if opts.EngineFactory == nil {
		opts.EngineFactory = engine.NewAutopilot
	}
	if opts.Policy == nil {
		opts.Policy = engine.DefaultPolicy()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sessions:                make(map[string]*Session),
		controllers:             NewControllerRegistry(),
		store:                   opts.Store,
		factory:                 opts.EngineFactory,
		policy:                  opts.Policy,
		metrics:                 opts.Metrics,
		index:                   opts.Index,
		outboxSize:              opts.OutboxSize,
		sendTimeout:             opts.SendTimeout,
		keepEngineOnRemove:      opts.KeepEngineOnRemove,
		clearControllerOnRemove: opts.ClearControllerOnRemove,
		subscribers:             make(map[chan SessionEvent]struct{}),
		ctx:                     ctx,
		cancel:                  cancel,
	}

	log.Info().Msg("SessionManager created")
	return m, nil
}

// Controllers exposes the controller registry
func (m *Manager) Controllers() *ControllerRegistry {
	return m.controllers
}

// Store returns the persisted state store
func (m *Manager) Store() Store {
	return m.store
}

// =============================================================================
// Lookup and creation
// =============================================================================

// Lookup returns the in-memory session for id without trying to resume it
func (m *Manager) Lookup(id string) (*Session, bool) {
	return m.lookup(id)
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetSession returns the in-memory session for id. If there is none, the
// session is resumed when a snapshot exists on disk and the controller that
// owns id is still registered and bound to it.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	if s, ok := m.lookup(id); ok {
		return s, nil
	}
	if ValidateID(id) != nil {
		return nil, notFound(id)
	}

	// Joined callers must not inherit the first caller's cancellation
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.resumeGroup.Do(resumeKey(id), func() (any, error) {
		if s, ok := m.lookup(id); ok {
			return s, nil
		}

		persisted, err := m.store.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list persisted sessions: %w", err)
		}
		// A concurrent NewSession may have installed it while listing
		if s, ok := m.lookup(id); ok {
			return s, nil
		}
		if _, ok := persisted[id]; !ok {
			return nil, notFound(id)
		}
		controller, ok := m.controllers.Live(id)
		if !ok {
			return nil, notFound(id)
		}

		log.Info().Str("sessionId", id).Msg("resuming persisted session")
		return m.newSession(flightCtx, controller, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// NewSession creates a session owned by controller. With an empty id a fresh
// uuid is generated. With an id that has a persisted snapshot, the engine is
// built from that snapshot; a snapshot that fails to decode is an error.
// If id is already in memory the existing session is returned unchanged.
func (m *Manager) NewSession(ctx context.Context, controller Controller, id string) (*Session, error) {
	if controller == nil {
		return nil, errors.New("session requires a controller")
	}
	if id == "" {
		return m.newSession(ctx, controller, "")
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	// Creation has its own key so it never receives a resume's not-found.
	// Concurrent creates for one id share a single engine.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := m.resumeGroup.Do(createKey(id), func() (any, error) {
		return m.newSession(flightCtx, controller, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func resumeKey(id string) string { return "resume:" + id }
func createKey(id string) string { return "create:" + id }

func (m *Manager) newSession(ctx context.Context, controller Controller, id string) (*Session, error) {
	log.Debug().Str("sessionId", id).Str("controllerId", controller.ID()).Msg("new session")

	if id != "" {
		if s, ok := m.lookup(id); ok {
			return s, nil
		}
	}

	var snapshot *engine.State
	if id != "" {
		exists, err := m.store.Exists(id)
		if err != nil {
			return nil, err
		}
		if exists {
			snapshot, err = m.store.Load(id)
			if err != nil {
				return nil, err
			}
		}
	}

	eng, err := m.factory(ctx, m.policy, controller, snapshot)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidState) {
			return nil, &CorruptStateError{ID: id, Err: err}
		}
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if id == "" {
		id = uuid.NewString()
	}

	runCtx, cancelRun := context.WithCancel(m.ctx)
	s := &Session{
		ID:        id,
		Engine:    eng,
		CreatedAt: time.Now(),
		Resumed:   snapshot != nil,
		cancelRun: cancelRun,
		runDone:   make(chan struct{}),
	}
	s.outbox = newOutbox(m.outboxSize, func(ctx context.Context, item outboxItem) {
		m.deliver(ctx, s, item)
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancelRun()
		s.outbox.close()
		return nil, ErrManagerClosed
	}
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		cancelRun()
		s.outbox.close()
		return existing, nil
	}
	controller.Bind(id)
	m.sessions[id] = s
	m.controllers.Register(id, controller)
	m.wg.Add(1)
	m.mu.Unlock()

	eng.OnStateChange(func(state engine.State) {
		err := s.outbox.enqueue(Message{
			MessageType: MessageStateUpdate,
			Data:        map[string]any{"state": state},
		})
		if errors.Is(err, errOutboxFull) {
			m.metrics.NotificationDropped()
			log.Warn().Str("sessionId", id).Msg("session outbox full, dropping state update")
		}
	})

	go func() {
		defer m.wg.Done()
		defer close(s.runDone)
		if err := eng.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("sessionId", id).Msg("engine run loop failed")
		}
	}()

	eventType := SessionEventCreated
	if s.Resumed {
		eventType = SessionEventResumed
	}
	m.metrics.SessionOpened(s.Resumed)
	m.notify(SessionEvent{Type: eventType, SessionID: id})

	log.Info().
		Str("sessionId", id).
		Str("controllerId", controller.ID()).
		Bool("resumed", s.Resumed).
		Msg("session started")
	return s, nil
}

// =============================================================================
// Mutation
// =============================================================================

// RemoveSession closes the owning controller's connection if it is still
// open and drops the in-memory session. Persisted state is left on disk.
// Removing an unknown id is a no-op.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	log.Debug().Str("sessionId", id).Msg("removing session")

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, id)
	controller, hasController := m.controllers.Get(id)
	if m.clearControllerOnRemove && hasController {
		m.controllers.Remove(id)
		if controller.State().IsBoundTo(id) {
			controller.Unbind()
		}
	}
	m.mu.Unlock()

	if hasController && controller.IsOpen() {
		if err := controller.Close(); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("failed to close controller connection")
		}
	}

	m.teardown(s)
	m.metrics.SessionClosed()
	m.notify(SessionEvent{Type: SessionEventRemoved, SessionID: id})
	return nil
}

// teardown stops delivery before closing the channel so nothing is sent
// after removal.
func (m *Manager) teardown(s *Session) {
	s.outbox.close()
	if ch := s.detach(); ch != nil {
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Str("sessionId", s.ID).Msg("channel close failed")
		}
	}
	if !m.keepEngineOnRemove {
		s.cancelRun()
	}
}

// PersistSession writes the engine's current full state to the store,
// replacing any earlier snapshot.
func (m *Manager) PersistSession(ctx context.Context, id string) error {
	s, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}

	// May block on the engine; no manager lock is held here
	state, err := s.Engine.FullState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state of session %s: %w", id, err)
	}

	size, err := m.store.Save(id, state)
	if err != nil {
		return err
	}

	if m.index != nil {
		if err := m.index.RecordPersisted(id, size, time.Now()); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("failed to index persisted session")
		}
	}

	m.metrics.Persisted()
	m.notify(SessionEvent{Type: SessionEventPersisted, SessionID: id})
	log.Debug().Str("sessionId", id).Int64("bytes", size).Msg("session persisted")
	return nil
}

// DiscardSnapshot deletes the persisted snapshot for id and its index row.
// An in-memory session keeps running; it just stops being resumable until
// it is persisted again.
func (m *Manager) DiscardSnapshot(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	exists, err := m.store.Exists(id)
	if err != nil {
		return err
	}
	if !exists {
		return notFound(id)
	}
	if err := m.store.Delete(id); err != nil {
		return err
	}

	if m.index != nil {
		if err := m.index.DeletePersisted(id); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("failed to drop index row")
		}
	}

	m.notify(SessionEvent{Type: SessionEventDiscarded, SessionID: id})
	log.Debug().Str("sessionId", id).Msg("snapshot discarded")
	return nil
}

// RegisterChannel attaches ch to the session, replacing any previous channel.
// The replaced channel is not closed; its owner is responsible for that.
func (m *Manager) RegisterChannel(id string, ch Channel) error {
	s, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	if _, ok := s.attach(ch); !ok {
		return notFound(id)
	}
	log.Debug().Str("sessionId", id).Msg("registered channel")
	return nil
}

// UnregisterChannel detaches ch when its connection goes away. A channel that
// has already been replaced is left alone.
func (m *Manager) UnregisterChannel(id string, ch Channel) {
	s, ok := m.lookup(id)
	if !ok {
		return
	}
	if s.release(ch) {
		log.Debug().Str("sessionId", id).Msg("unregistered channel")
	}
}

// SendNotification pushes a message to the session's channel. With no
// channel attached it does nothing. Delivery errors are returned.
func (m *Manager) SendNotification(ctx context.Context, id string, messageType string, data any) error {
	s, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	return m.sendTo(ctx, s, messageType, data)
}

func (m *Manager) sendTo(ctx context.Context, s *Session, messageType string, data any) error {
	ch := s.Channel()
	if ch == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	if err := ch.Send(ctx, Message{MessageType: messageType, Data: data}); err != nil {
		return fmt.Errorf("failed to send %s to session %s: %w", messageType, s.ID, err)
	}
	m.metrics.NotificationSent(messageType)
	return nil
}

// ResyncChannel queues a full state_update behind any pending updates. The
// state is read when the item is delivered, so the channel never ends on a
// snapshot older than one it already received.
func (m *Manager) ResyncChannel(id string) error {
	s, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}
	if err := s.outbox.push(outboxItem{resync: true}); err != nil {
		return fmt.Errorf("failed to queue resync for session %s: %w", id, err)
	}
	return nil
}

// deliver is the outbox callback for engine state updates. Errors stop here
// so a broken channel never reaches the engine.
func (m *Manager) deliver(ctx context.Context, s *Session, item outboxItem) {
	msg := item.msg
	if item.resync {
		if s.Channel() == nil {
			return
		}
		stateCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
		state, err := s.Engine.FullState(stateCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to read state for resync")
			}
			return
		}
		msg = Message{MessageType: MessageStateUpdate, Data: map[string]any{"state": *state}}
	}
	if err := m.sendTo(ctx, s, msg.MessageType, msg.Data); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.NotificationFailed()
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("state update delivery failed")
	}
}

// =============================================================================
// Queries
// =============================================================================

// ListSessions returns in-memory sessions ordered by creation time
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, m.Describe(s))
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Describe returns the listing view of s
func (m *Manager) Describe(s *Session) SessionInfo {
	c, _ := m.controllers.Get(s.ID)
	return s.info(c)
}

// ListPersisted returns the sorted ids that have a snapshot on disk
func (m *Manager) ListPersisted() ([]string, error) {
	set, err := m.store.List()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of in-memory sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// =============================================================================
// Events
// =============================================================================

// Subscribe registers a callback for session events.
// Returns an unsubscribe function. The goroutine is tracked and will be
// cleaned up on Shutdown even if unsubscribe is not called.
func (m *Manager) Subscribe(callback SessionEventCallback) func() {
	ch := make(chan SessionEvent, 10)

	m.subscribersMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subscribersMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				callback(event)
			}
		}
	}()

	return func() {
		m.subscribersMu.Lock()
		defer m.subscribersMu.Unlock()
		if _, exists := m.subscribers[ch]; exists {
			delete(m.subscribers, ch)
			close(ch)
		}
	}
}

// notify broadcasts an event to all subscribers
func (m *Manager) notify(event SessionEvent) {
	m.subscribersMu.RLock()
	defer m.subscribersMu.RUnlock()

	dropped := 0
	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		log.Warn().
			Str("sessionId", event.SessionID).
			Str("eventType", string(event.Type)).
			Int("droppedCount", dropped).
			Msg("dropped session events due to full subscriber channels")
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops every engine, closes every channel and waits for background
// goroutines until ctx expires. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	log.Info().Int("sessions", len(sessions)).Msg("shutting down SessionManager")

	m.cancel()
	for _, s := range sessions {
		m.teardown(s)
		s.cancelRun()
	}

	m.subscribersMu.Lock()
	for ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = make(map[chan SessionEvent]struct{})
	m.subscribersMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("SessionManager shutdown complete")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("SessionManager shutdown timed out")
		return ctx.Err()
	}
}
