package resource

import (
	"errors"
	"io"
	"testing"

	"github.com/arloliu/go-dvb/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errHandler = errors.New("handler failure")

type mockHandler struct {
	mock.Mock
}

var _ Handler = (*mockHandler)(nil)

func (h *mockHandler) Open(s *Session) error {
	return h.Called(s).Error(0)
}

func (h *mockHandler) Close(s *Session) {
	h.Called(s)
}

func (h *mockHandler) Handle(s *Session, apdu []byte) error {
	return h.Called(s, apdu).Error(0)
}

func (h *mockHandler) Manage(s *Session) error {
	return h.Called(s).Error(0)
}

type sent struct {
	slotID    uint8
	sessionID uint16
	apdu      []byte
}

func newTestManager(h Handler, ids ...ID) (*Manager, *[]sent) {
	r := NewRegistry()
	for _, id := range ids {
		r.Register(id, Static(h))
	}

	out := &[]sent{}
	sender := func(slotID uint8, sessionID uint16, apdu []byte) error {
		*out = append(*out, sent{slotID: slotID, sessionID: sessionID, apdu: apdu})
		return nil
	}

	return NewManager(r, sender, logger.NewSlogWriter(io.Discard, logger.DebugLevel, false)), out
}

func TestManager_InitDistinctIDs(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(&HandlerFuncs{}, ResourceManager, MMI)

	seen := make(map[uint16]bool)
	for i := range 10 {
		id, err := m.Init(uint8(i%2), ResourceManager) //nolint:gosec
		require.NoError(err)
		require.NotZero(id)
		require.False(seen[id], "session id %d reused", id)
		seen[id] = true
	}
	require.Equal(10, m.Len())

	s, ok := m.Lookup(1)
	require.True(ok)
	require.Equal(SessionPending, s.State())
	require.Equal(ResourceManager, s.ResourceID())
	require.Equal(uint8(0), s.SlotID())

	_, err := m.Init(0, DateTime)
	require.ErrorIs(err, ErrUnsupportedResource)
}

func TestManager_InitSkipsUsedIDs(t *testing.T) {
	require := require.New(t)

	m, _ := newTestManager(&HandlerFuncs{}, MMI)
	m.lastID = 0xFFFE

	id, err := m.Init(0, MMI)
	require.NoError(err)
	require.Equal(uint16(0xFFFF), id)

	// the counter wraps, skipping 0
	id, err = m.Init(0, MMI)
	require.NoError(err)
	require.Equal(uint16(1), id)

	require.NoError(m.Close(0xFFFF))
	m.lastID = 0xFFFE
	id, err = m.Init(0, MMI)
	require.NoError(err)
	require.Equal(uint16(0xFFFF), id)

	// 1 is still in use
	id, err = m.Init(0, MMI)
	require.NoError(err)
	require.Equal(uint16(2), id)
}

func TestManager_Lifecycle(t *testing.T) {
	require := require.New(t)

	h := &mockHandler{}
	m, out := newTestManager(h, ApplicationInformation)

	id, err := m.Init(1, ApplicationInformation)
	require.NoError(err)
	s, _ := m.Lookup(id)

	// a pending session can neither send nor receive
	require.ErrorIs(s.Send(TagAppInfoEnq, nil), ErrUnknownSession)
	require.ErrorIs(m.Handle(id, []byte{1}), ErrUnknownSession)

	h.On("Open", s).Return(nil).Once()
	require.NoError(m.Open(id))
	require.Equal(SessionActive, s.State())

	// opening twice is a no-op
	require.NoError(m.Open(id))

	apdu := []byte{0x9F, 0x80, 0x21, 0x00}
	h.On("Handle", s, apdu).Return(nil).Once()
	require.NoError(m.Handle(id, apdu))

	h.On("Manage", s).Return(errHandler).Once()
	require.ErrorIs(m.ManageAll(), errHandler)

	require.NoError(s.Send(TagAppInfoEnq, nil))
	require.Equal([]sent{{slotID: 1, sessionID: id, apdu: []byte{0x9F, 0x80, 0x20, 0x00}}}, *out)

	h.On("Close", s).Return().Once()
	require.NoError(m.Close(id))
	require.Equal(SessionClosed, s.State())
	require.Zero(m.Len())

	// closing is idempotent
	require.NoError(m.Close(id))
	require.ErrorIs(m.Handle(id, apdu), ErrUnknownSession)
	require.ErrorIs(m.Manage(id), ErrUnknownSession)

	h.AssertExpectations(t)
}

func TestManager_OpenErrors(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		m, _ := newTestManager(&HandlerFuncs{}, MMI)
		require.ErrorIs(t, m.Open(42), ErrUnknownSession)
	})

	t.Run("handler failure discards session without Close", func(t *testing.T) {
		h := &mockHandler{}
		m, _ := newTestManager(h, MMI)

		id, err := m.Init(0, MMI)
		require.NoError(t, err)
		s, _ := m.Lookup(id)

		h.On("Open", s).Return(errHandler).Once()

		require.ErrorIs(t, m.Open(id), errHandler)
		assert.Equal(t, SessionClosed, s.State())
		assert.Zero(t, m.Len())
		h.AssertExpectations(t)
		h.AssertNotCalled(t, "Close", mock.Anything)

		// the session is gone; closing it again is a no-op
		require.NoError(t, m.Close(id))
		h.AssertNotCalled(t, "Close", mock.Anything)
	})

	t.Run("resource unregistered", func(t *testing.T) {
		m, _ := newTestManager(&HandlerFuncs{}, MMI)
		id, err := m.Init(0, MMI)
		require.NoError(t, err)

		m.Registry().Register(MMI, nil)
		require.ErrorIs(t, m.Open(id), ErrUnsupportedResource)
		assert.Zero(t, m.Len())
	})
}

func TestManager_ClosePendingSkipsHandler(t *testing.T) {
	h := &mockHandler{}
	m, _ := newTestManager(h, MMI)

	id, err := m.Init(0, MMI)
	require.NoError(t, err)
	require.NoError(t, m.Close(id))

	h.AssertNotCalled(t, "Close", mock.Anything)
}

func TestManager_CloseSlot(t *testing.T) {
	require := require.New(t)

	closed := map[uint16]int{}
	h := &HandlerFuncs{CloseFunc: func(s *Session) { closed[s.ID()]++ }}
	m, _ := newTestManager(h, MMI, DateTime)

	var slot0 []uint16
	for i := range 6 {
		slotID := uint8(i % 2) //nolint:gosec
		id, err := m.Init(slotID, MMI)
		require.NoError(err)
		require.NoError(m.Open(id))
		if slotID == 0 {
			slot0 = append(slot0, id)
		}
	}

	require.Equal(slot0, m.CloseSlot(0))
	require.Equal(3, m.Len())
	for _, id := range slot0 {
		require.Equal(1, closed[id])
	}
	for _, s := range m.Sessions() {
		require.Equal(uint8(1), s.SlotID())
	}

	require.Empty(m.CloseSlot(0))
}

func TestManager_ManageAll(t *testing.T) {
	var managed []uint16
	h := &HandlerFuncs{ManageFunc: func(s *Session) error {
		managed = append(managed, s.ID())
		if s.ID() == 2 {
			return errHandler
		}
		return nil
	}}
	m, _ := newTestManager(h, MMI)

	for range 3 {
		id, err := m.Init(0, MMI)
		require.NoError(t, err)
		require.NoError(t, m.Open(id))
	}
	_, err := m.Init(0, MMI) // pending sessions are skipped
	require.NoError(t, err)

	err = m.ManageAll()
	require.ErrorIs(t, err, errHandler)
	assert.Equal(t, []uint16{1, 2, 3}, managed)
}

func TestSession_NoSender(t *testing.T) {
	r := NewRegistry()
	r.Register(MMI, Static(&HandlerFuncs{}))
	m := NewManager(r, nil, nil)

	id, err := m.Init(0, MMI)
	require.NoError(t, err)
	require.NoError(t, m.Open(id))

	s, _ := m.Lookup(id)
	assert.ErrorIs(t, s.Send(TagCloseMMI, nil), ErrNoSender)
	assert.NotNil(t, s.Logger())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", SessionPending.String())
	assert.Equal(t, "active", SessionActive.String())
	assert.Equal(t, "closed", SessionClosed.String())
	assert.Equal(t, "unknown", State(7).String())
}
