package resource

import (
	"fmt"

	"github.com/arloliu/go-dvb/logger"
)

// State is the lifecycle state of a resource session.
type State uint8

const (
	// SessionPending means the session number is allocated but not yet opened.
	SessionPending State = iota
	// SessionActive means the session carries APDUs.
	SessionActive
	// SessionClosed means the session is gone.
	SessionClosed
)

func (st State) String() string {
	switch st {
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender writes an APDU on a session of a slot.
type Sender func(slotID uint8, sessionID uint16, apdu []byte) error

// Session is one resource session between the host and a module.
type Session struct {
	id         uint16
	resourceID ID
	slotID     uint8
	state      State
	handler    Handler
	sender     Sender
	logger     logger.Logger
}

// ID returns the session number.
func (s *Session) ID() uint16 { return s.id }

// ResourceID returns the resource identifier requested by the module.
func (s *Session) ResourceID() ID { return s.resourceID }

// SlotID returns the slot owning the session.
func (s *Session) SlotID() uint8 { return s.slotID }

// State returns the session state.
func (s *Session) State() State { return s.state }

// Logger returns a logger tagged with the slot, session and resource.
func (s *Session) Logger() logger.Logger { return s.logger }

// Send encodes an APDU from tag and body and writes it on the session.
func (s *Session) Send(tag uint32, body []byte) error {
	apdu, err := EncodeAPDU(tag, body)
	if err != nil {
		return err
	}

	return s.SendAPDU(apdu)
}

// SendAPDU writes an already encoded APDU on the session.
func (s *Session) SendAPDU(apdu []byte) error {
	if s.state != SessionActive {
		return fmt.Errorf("%w: session %d is %s", ErrUnknownSession, s.id, s.state)
	}
	if s.sender == nil {
		return ErrNoSender
	}

	return s.sender(s.slotID, s.id, apdu)
}
