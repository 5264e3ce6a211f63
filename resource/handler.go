package resource

// Handler is the capability interface implemented by a resource.
//
// One Handler instance serves one session. Every method is invoked from
// the goroutine owning the CA device and must not block.
type Handler interface {
	// Open is called once the session becomes active. A typical resource
	// sends its first enquiry object here. When Open returns an error the
	// session is discarded and Close is not called.
	Open(s *Session) error

	// Close is called when the session is closed by either side or when the
	// module is removed. The session can no longer send.
	Close(s *Session)

	// Handle processes one APDU received on the session.
	Handle(s *Session, apdu []byte) error

	// Manage is invoked on every device tick for periodic work such as
	// status enquiries.
	Manage(s *Session) error
}

// Factory creates the Handler for a newly opened session.
type Factory func(s *Session) Handler

// HandlerFuncs adapts plain functions to the Handler interface.
// Nil fields are treated as no-ops.
type HandlerFuncs struct {
	OpenFunc   func(s *Session) error
	CloseFunc  func(s *Session)
	HandleFunc func(s *Session, apdu []byte) error
	ManageFunc func(s *Session) error
}

var _ Handler = (*HandlerFuncs)(nil)

func (h *HandlerFuncs) Open(s *Session) error {
	if h.OpenFunc == nil {
		return nil
	}

	return h.OpenFunc(s)
}

func (h *HandlerFuncs) Close(s *Session) {
	if h.CloseFunc != nil {
		h.CloseFunc(s)
	}
}

func (h *HandlerFuncs) Handle(s *Session, apdu []byte) error {
	if h.HandleFunc == nil {
		return nil
	}

	return h.HandleFunc(s, apdu)
}

func (h *HandlerFuncs) Manage(s *Session) error {
	if h.ManageFunc == nil {
		return nil
	}

	return h.ManageFunc(s)
}

// Static returns a Factory that hands out the same handler for every session.
func Static(h Handler) Factory {
	return func(*Session) Handler { return h }
}
