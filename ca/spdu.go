package ca

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
)

// SPDUHeaderSize is the size of the SPDU header: tag, length and session number.
const SPDUHeaderSize = 4

// Session tags (EN 50221 Table 14).
const (
	TagSessionNumber         byte = 0x90
	TagOpenSessionRequest    byte = 0x91
	TagOpenSessionResponse   byte = 0x92
	TagCreateSession         byte = 0x93
	TagCreateSessionResponse byte = 0x94
	TagCloseSessionRequest   byte = 0x95
	TagCloseSessionResponse  byte = 0x96
)

// Session status values.
const (
	StatusOK           byte = 0x00
	StatusNotAllocated byte = 0xF0
	StatusNotAvailable byte = 0xF1
	StatusWrongVersion byte = 0xF2
	StatusResourceBusy byte = 0xF3
)

// heldSPDU is an SPDU written by a handler while its session was being opened.
type heldSPDU struct {
	slotID uint8
	spdu   []byte
}

// sessionLayer dispatches SPDUs between the transport and the resource manager.
type sessionLayer struct {
	tr      *transport
	mgr     *resource.Manager
	logger  logger.Logger
	metrics *DeviceMetrics

	// holding defers handler output until ST_OPEN_SESSION_RESPONSE is queued.
	holding bool
	held    []heldSPDU
}

// handle processes one SPDU received on slotID.
func (sl *sessionLayer) handle(slotID uint8, spdu []byte) error {
	if len(spdu) < SPDUHeaderSize {
		return protocolError(slotID, 0, "spdu of %d bytes is too short", len(spdu))
	}

	tag := spdu[0]
	switch tag {
	case TagSessionNumber:
		return sl.handleSessionNumber(slotID, spdu)
	case TagOpenSessionRequest:
		return sl.handleOpenSessionRequest(slotID, spdu)
	case TagCloseSessionRequest:
		return sl.handleCloseSessionRequest(slotID, spdu)
	case TagCreateSessionResponse:
		return sl.handleCreateSessionResponse(slotID, spdu)
	case TagCloseSessionResponse:
		return sl.handleCloseSessionResponse(slotID, spdu)
	default:
		return protocolError(slotID, tag, "invalid tag 0x%02X", tag)
	}
}

// checkSize validates the declared length byte of an SPDU of fixed size.
func checkSize(slotID uint8, spdu []byte, expected int) error {
	if len(spdu) < expected || int(spdu[1]) != expected-2 {
		return protocolError(slotID, spdu[0], "invalid size")
	}

	return nil
}

func (sl *sessionLayer) handleSessionNumber(slotID uint8, spdu []byte) error {
	sessionID := binary.BigEndian.Uint16(spdu[2:4])

	err := resource.ErrUnknownSession
	if sl.owned(slotID, sessionID) {
		err = sl.mgr.Handle(sessionID, spdu[SPDUHeaderSize:])
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resource.ErrUnknownSession):
		sl.metrics.incUnknownSessionCount()
		sl.logger.Warn("apdu for unknown session dropped", "slot", slotID, "session", sessionID)
	default:
		sl.logger.Error("resource handler failed", "slot", slotID, "session", sessionID, "error", err)
	}

	return nil
}

func (sl *sessionLayer) handleOpenSessionRequest(slotID uint8, spdu []byte) error {
	if err := checkSize(slotID, spdu, 6); err != nil {
		return err
	}

	resourceID := resource.ID(binary.BigEndian.Uint32(spdu[2:6]))

	status := StatusOK
	sessionID, err := sl.mgr.Init(slotID, resourceID)
	switch {
	case err == nil:
	case errors.Is(err, resource.ErrUnsupportedResource):
		status = StatusNotAllocated
	case errors.Is(err, resource.ErrSessionsExhausted):
		status = StatusResourceBusy
	default:
		return err
	}

	if status == StatusOK {
		status = sl.activate(slotID, sessionID)
	}
	if status != StatusOK {
		sessionID = 0
		sl.metrics.incSessionRejectCount()
		sl.logger.Warn("open session rejected", "slot", slotID, "resource", resourceID.String(), "status", fmt.Sprintf("0x%02X", status))
	}

	response := make([]byte, 0, 9)
	response = append(response, TagOpenSessionResponse, 7, status)
	response = append(response, spdu[2:6]...)
	response = binary.BigEndian.AppendUint16(response, sessionID)

	held := sl.held
	sl.held = nil

	if err := sl.tr.submit(slotID, TagDataLast, response); err != nil {
		if status == StatusOK {
			_ = sl.mgr.Close(sessionID)
		}
		return err
	}
	if status != StatusOK {
		return nil
	}
	sl.metrics.incSessionOpenCount()

	for _, h := range held {
		if err := sl.tr.submit(h.slotID, TagDataLast, h.spdu); err != nil {
			return err
		}
	}

	return nil
}

// activate opens a module-requested session before it is confirmed. APDUs
// sent by the handler's Open are held back so that they follow the
// ST_OPEN_SESSION_RESPONSE. A failing handler turns into a negative status.
func (sl *sessionLayer) activate(slotID uint8, sessionID uint16) byte {
	sl.holding = true
	err := sl.mgr.Open(sessionID)
	sl.holding = false

	if err != nil {
		sl.held = nil
		sl.logger.Error("failed to open session", "slot", slotID, "session", sessionID, "error", err)

		return StatusNotAvailable
	}

	return StatusOK
}

func (sl *sessionLayer) handleCloseSessionRequest(slotID uint8, spdu []byte) error {
	if err := checkSize(slotID, spdu, 4); err != nil {
		return err
	}

	sessionID := binary.BigEndian.Uint16(spdu[2:4])

	status := StatusOK
	if sl.owned(slotID, sessionID) {
		sl.close(slotID, sessionID)
	} else {
		status = StatusNotAllocated
		sl.metrics.incUnknownSessionCount()
		sl.logger.Warn("close request for unknown session", "slot", slotID, "session", sessionID)
	}

	response := []byte{TagCloseSessionResponse, 3, status, spdu[2], spdu[3]}

	return sl.tr.submit(slotID, TagDataLast, response)
}

func (sl *sessionLayer) handleCreateSessionResponse(slotID uint8, spdu []byte) error {
	if err := checkSize(slotID, spdu, 9); err != nil {
		return err
	}

	sessionID := binary.BigEndian.Uint16(spdu[7:9])
	if spdu[2] != StatusOK {
		sl.logger.Warn("module refused session", "slot", slotID, "session", sessionID, "status", fmt.Sprintf("0x%02X", spdu[2]))
		sl.close(slotID, sessionID)

		return nil
	}

	return sl.open(slotID, sessionID)
}

func (sl *sessionLayer) handleCloseSessionResponse(slotID uint8, spdu []byte) error {
	if err := checkSize(slotID, spdu, 5); err != nil {
		return err
	}

	sessionID := binary.BigEndian.Uint16(spdu[3:5])
	sl.close(slotID, sessionID)

	return nil
}

// open activates a host-initiated session confirmed by the module. When the
// handler fails the module is asked to close the session again.
func (sl *sessionLayer) open(slotID uint8, sessionID uint16) error {
	if !sl.owned(slotID, sessionID) {
		return protocolError(slotID, TagCreateSessionResponse, "open of unknown session %d", sessionID)
	}

	if err := sl.mgr.Open(sessionID); err != nil {
		sl.logger.Error("failed to open session", "slot", slotID, "session", sessionID, "error", err)
		return sl.tr.submit(slotID, TagDataLast, closeSessionRequest(sessionID))
	}
	sl.metrics.incSessionOpenCount()

	return nil
}

// close closes a session owned by slotID; sessions of other slots are left alone.
func (sl *sessionLayer) close(slotID uint8, sessionID uint16) {
	if !sl.owned(slotID, sessionID) {
		return
	}
	_ = sl.mgr.Close(sessionID)
	sl.metrics.addSessionCloseCount(1)
	sl.logger.Debug("session closed by module", "slot", slotID, "session", sessionID)
}

// owned reports whether sessionID is open on slotID. A module never sees
// the sessions of another slot.
func (sl *sessionLayer) owned(slotID uint8, sessionID uint16) bool {
	s, ok := sl.mgr.Lookup(sessionID)
	return ok && s.SlotID() == slotID
}

// sendAPDU writes an APDU on a session. It is the resource.Sender of the CA device.
func (sl *sessionLayer) sendAPDU(slotID uint8, sessionID uint16, apdu []byte) error {
	spdu := make([]byte, 0, SPDUHeaderSize+len(apdu))
	spdu = append(spdu, TagSessionNumber, 2)
	spdu = binary.BigEndian.AppendUint16(spdu, sessionID)
	spdu = append(spdu, apdu...)

	if sl.holding {
		sl.held = append(sl.held, heldSPDU{slotID: slotID, spdu: spdu})
		return nil
	}

	return sl.tr.submit(slotID, TagDataLast, spdu)
}

// closeSessionRequest builds a host-initiated ST_CLOSE_SESSION_REQUEST.
func closeSessionRequest(sessionID uint16) []byte {
	spdu := []byte{TagCloseSessionRequest, 2}
	return binary.BigEndian.AppendUint16(spdu, sessionID)
}
