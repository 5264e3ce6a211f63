package resource

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/arloliu/go-dvb/logger"
)

// Manager owns the session table of a CA device.
type Manager struct {
	registry *Registry
	sender   Sender
	logger   logger.Logger

	sessions map[uint16]*Session
	lastID   uint16
}

// NewManager creates a Manager resolving resources through registry.
// sender is bound to every session for outgoing APDUs and may be nil.
func NewManager(registry *Registry, sender Sender, l logger.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if l == nil {
		l = logger.GetLogger()
	}

	return &Manager{
		registry: registry,
		sender:   sender,
		logger:   l,
		sessions: make(map[uint16]*Session),
	}
}

// Registry returns the registry used to resolve resources.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Init allocates a session for resourceID on slotID and returns its number.
//
// The session starts in the pending state. Session numbers come from a
// monotonic counter that skips 0 and any number still in use.
func (m *Manager) Init(slotID uint8, resourceID ID) (uint16, error) {
	if _, _, ok := m.registry.Lookup(resourceID); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedResource, resourceID)
	}

	id, err := m.nextID()
	if err != nil {
		return 0, err
	}

	m.sessions[id] = &Session{
		id:         id,
		resourceID: resourceID,
		slotID:     slotID,
		state:      SessionPending,
		sender:     m.sender,
		logger:     m.logger.With("slot", slotID, "session", id, "resource", resourceID.String()),
	}

	m.logger.Debug("session allocated", "slot", slotID, "session", id, "resource", resourceID.String())

	return id, nil
}

func (m *Manager) nextID() (uint16, error) {
	if len(m.sessions) >= 0xFFFF {
		return 0, ErrSessionsExhausted
	}

	id := m.lastID
	for {
		id++
		if id == 0 {
			continue
		}
		if _, used := m.sessions[id]; !used {
			m.lastID = id
			return id, nil
		}
	}
}

// Open activates a pending session and starts its resource handler.
// Opening an already active session is a no-op.
func (m *Manager) Open(sessionID uint16) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}
	if s.state == SessionActive {
		return nil
	}

	_, factory, ok := m.registry.Lookup(s.resourceID)
	if !ok {
		// the resource was unregistered between Init and Open
		delete(m.sessions, sessionID)
		s.state = SessionClosed

		return fmt.Errorf("%w: %s", ErrUnsupportedResource, s.resourceID)
	}

	s.state = SessionActive
	s.handler = factory(s)

	if s.handler != nil {
		if err := s.handler.Open(s); err != nil {
			// a handler that failed to open is not closed
			delete(m.sessions, sessionID)
			s.state = SessionClosed
			s.handler = nil

			return fmt.Errorf("resource: open session %d: %w", sessionID, err)
		}
	}

	m.logger.Debug("session opened", "slot", s.slotID, "session", sessionID, "resource", s.resourceID.String())

	return nil
}

// Close closes a session in any state and removes it from the table.
// Closing an unknown or already closed session succeeds.
func (m *Manager) Close(sessionID uint16) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}

	m.closeSession(s)
	m.logger.Debug("session closed", "slot", s.slotID, "session", sessionID)

	return nil
}

func (m *Manager) closeSession(s *Session) {
	delete(m.sessions, s.id)

	wasActive := s.state == SessionActive
	s.state = SessionClosed

	if wasActive && s.handler != nil {
		s.handler.Close(s)
	}
}

// CloseSlot closes every session owned by slotID and returns their numbers in ascending order.
func (m *Manager) CloseSlot(slotID uint8) []uint16 {
	var closed []uint16
	for _, id := range slices.Sorted(maps.Keys(m.sessions)) {
		s := m.sessions[id]
		if s.slotID != slotID {
			continue
		}
		m.closeSession(s)
		closed = append(closed, id)
	}

	return closed
}

// Handle routes an APDU to the handler of an active session.
func (m *Manager) Handle(sessionID uint16, apdu []byte) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.state != SessionActive {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}
	if s.handler == nil {
		return nil
	}

	return s.handler.Handle(s, apdu)
}

// Manage runs the periodic hook of an active session.
func (m *Manager) Manage(sessionID uint16) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.state != SessionActive {
		return fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}
	if s.handler == nil {
		return nil
	}

	return s.handler.Manage(s)
}

// ManageAll runs the periodic hook of every active session in ascending
// session order and joins their errors.
func (m *Manager) ManageAll() error {
	var errs error
	for _, id := range slices.Sorted(maps.Keys(m.sessions)) {
		s, ok := m.sessions[id]
		if !ok || s.state != SessionActive {
			continue
		}
		if err := m.Manage(id); err != nil {
			errs = errors.Join(errs, fmt.Errorf("session %d: %w", id, err))
		}
	}

	return errs
}

// Lookup returns the session with the given number.
func (m *Manager) Lookup(sessionID uint16) (*Session, bool) {
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Sessions returns the open sessions in ascending session order.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, id := range slices.Sorted(maps.Keys(m.sessions)) {
		out = append(out, m.sessions[id])
	}

	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	return len(m.sessions)
}
