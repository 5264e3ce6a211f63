package ca

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dvb/internal/queue"
	"github.com/arloliu/go-dvb/internal/util"
	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
)

// writeRetryDelay is the pause between write attempts on a device that would block.
const writeRetryDelay = time.Millisecond

// MaxMessageSize bounds a message reassembled from data objects: an SPDU
// header followed by the largest APDU a 2-byte length field can describe.
const MaxMessageSize = SPDUHeaderSize + resource.APDUTagSize + 3 + 0xFFFF

// outFrame is a command TPDU waiting for the link to become idle.
type outFrame struct {
	tag     byte
	payload []byte
}

// transportConn is the transport connection of one slot.
type transportConn struct {
	slotID uint8
	connID uint8

	// active is set by TT_CTC_REPLY and cleared by TT_DTC_REPLY or TT_DELETE_TC.
	active bool
	// deleted marks a connection torn down by either side; the slot
	// manager re-creates it on the next tick.
	deleted bool

	// pending is set while a command waits for the module's response.
	pending bool
	sentAt  time.Time
	outbox  *queue.Queue[outFrame]

	fragments    [][]byte
	fragmentSize int
	lastPoll     time.Time
}

func newTransportConn(slotID uint8) *transportConn {
	return &transportConn{
		slotID: slotID,
		connID: slotID + 1,
		outbox: queue.New[outFrame](4),
	}
}

// messageHandler receives a complete message reassembled from data objects.
type messageHandler func(slotID uint8, msg []byte) error

// transport implements the EN 50221 transport layer (§7.1) over a CA device.
//
// This type is NOT goroutine-safe; it is driven by the CaDevice owner.
type transport struct {
	dev     Device
	cfg     *Config
	logger  logger.Logger
	metrics *DeviceMetrics
	now     func() time.Time

	conns     map[uint8]*transportConn
	onMessage messageHandler
}

func newTransport(dev Device, cfg *Config, l logger.Logger, metrics *DeviceMetrics, onMessage messageHandler) *transport {
	return &transport{
		dev:       dev,
		cfg:       cfg,
		logger:    l,
		metrics:   metrics,
		now:       time.Now,
		conns:     make(map[uint8]*transportConn),
		onMessage: onMessage,
	}
}

// send writes one TPDU to the device immediately.
//
// The frame is [slotID, connID, tag, length, connID] followed by the
// payload, written with one vectored write that is drained completely.
func (t *transport) send(slotID uint8, tag byte, payload []byte) error {
	if len(payload) >= TPDUSizeMax {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), TPDUSizeMax)
	}

	header := frameHeader(slotID, tag, len(payload))
	if err := t.writeAll(header, payload); err != nil {
		return err
	}

	t.metrics.incTPDUSendCount()
	t.logger.Debug("tpdu sent", "slot", slotID, "tag", fmt.Sprintf("0x%02X", tag), "len", len(payload))

	return nil
}

// writeAll drains bufs into the device, retrying while the device would
// block, so a frame is never left partially written.
func (t *transport) writeAll(bufs ...[]byte) error {
	bufs = consumeBufs(bufs, 0)
	deadline := t.now().Add(t.cfg.writeTimeout)

	for len(bufs) > 0 {
		n, err := t.dev.Writev(bufs...)
		bufs = consumeBufs(bufs, n)

		switch {
		case err == nil && (n > 0 || len(bufs) == 0):
			continue
		case err == nil, errors.Is(err, ErrWouldBlock):
			if t.now().After(deadline) {
				return fmt.Errorf("%w: write timed out after %v", ErrDeviceIO, t.cfg.writeTimeout)
			}
			time.Sleep(writeRetryDelay)
		default:
			return fmt.Errorf("%w: %w", ErrDeviceIO, err)
		}
	}

	return nil
}

// consumeBufs drops the first n bytes and any leading empty buffers.
func consumeBufs(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 {
		if n < len(bufs[0]) {
			bufs[0] = bufs[0][n:]
			return bufs
		}
		n -= len(bufs[0])
		bufs = bufs[1:]
	}

	return bufs
}

// init (re-)creates the transport connection of a slot and sends TT_CREATE_TC.
func (t *transport) init(slotID uint8) error {
	conn := newTransportConn(slotID)
	t.conns[slotID] = conn
	t.metrics.incSlotResetCount()

	t.logger.Debug("create transport connection", "slot", slotID, "conn", conn.connID)

	return t.submit(slotID, TagCreateTC, nil)
}

// drop forgets the transport connection of a slot whose module went away.
func (t *transport) drop(slotID uint8) {
	delete(t.conns, slotID)
}

func (t *transport) conn(slotID uint8) (*transportConn, bool) {
	c, ok := t.conns[slotID]
	return c, ok
}

// needsInit reports whether the connection of a slot is missing or was deleted.
func (t *transport) needsInit(slotID uint8) bool {
	c, ok := t.conns[slotID]
	return !ok || (c.deleted && !c.pending)
}

// submit queues a command TPDU and sends it as soon as the link is idle.
func (t *transport) submit(slotID uint8, tag byte, payload []byte) error {
	if len(payload) >= TPDUSizeMax {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), TPDUSizeMax)
	}

	c, ok := t.conns[slotID]
	if !ok {
		return fmt.Errorf("%w: slot %d has no transport connection", ErrInvalidSlot, slotID)
	}

	c.outbox.Enqueue(outFrame{tag: tag, payload: payload})

	return t.flush(c)
}

// flush sends the next queued command when no response is pending.
func (t *transport) flush(c *transportConn) error {
	if c.pending {
		return nil
	}

	next, ok := c.outbox.Peek()
	if !ok {
		return nil
	}

	// a command stays queued until it was written
	if err := t.send(c.slotID, next.tag, next.payload); err != nil {
		return err
	}
	c.outbox.Dequeue()

	c.pending = true
	c.sentAt = t.now()

	return nil
}

// hasQueued reports whether a command with tag is waiting in the outbox.
func (c *transportConn) hasQueued(tag byte) bool {
	found := false
	// rotate the whole queue once to keep its order
	for range c.outbox.Length() {
		f, _ := c.outbox.Dequeue()
		if f.tag == tag {
			found = true
		}
		c.outbox.Enqueue(f)
	}

	return found
}

// onFrame processes one frame read from the device.
func (t *transport) onFrame(frame []byte) error {
	t.metrics.incTPDURecvCount()

	slotID, objs, err := parseFrame(frame)
	if err != nil {
		return err
	}

	c, ok := t.conns[slotID]
	if !ok {
		return protocolError(slotID, 0, "no transport connection")
	}

	// every frame read is the response to the outstanding command
	c.pending = false

	dataAvailable := false
	for _, obj := range objs {
		switch obj.tag {
		case TagCTCReply:
			c.active = true
			c.deleted = false
			t.logger.Debug("transport connection active", "slot", slotID)

		case TagDTCReply:
			c.active = false
			c.deleted = true
			t.logger.Debug("transport connection deleted", "slot", slotID)

		case TagDeleteTC:
			c.active = false
			c.deleted = true
			c.dropFragments()
			// commands queued for the old connection are void
			c.outbox.Reset()
			t.logger.Info("module deleted transport connection", "slot", slotID)
			if err := t.submit(slotID, TagDTCReply, nil); err != nil {
				return err
			}

		case TagDataMore:
			if err := c.checkFragment(obj); err != nil {
				return err
			}
			c.fragments = append(c.fragments, util.CloneSlice(obj.body))
			c.fragmentSize += len(obj.body)

		case TagDataLast:
			if err := c.checkFragment(obj); err != nil {
				return err
			}
			msg := c.reassemble(obj.body)
			if len(msg) == 0 {
				continue
			}
			if err := t.onMessage(slotID, msg); err != nil {
				return err
			}

		case TagSB:
			if len(obj.body) != 1 {
				return protocolError(slotID, obj.tag, "status object with %d value bytes", len(obj.body))
			}
			dataAvailable = obj.body[0]&statusDataBit != 0

		default:
			return protocolError(slotID, obj.tag, "invalid tag 0x%02X", obj.tag)
		}
	}

	if dataAvailable && !c.deleted && !c.hasQueued(TagRcv) {
		c.outbox.Enqueue(outFrame{tag: TagRcv})
	}

	return t.flush(c)
}

// reassemble appends the last fragment and returns the whole message in
// arrival order, clearing the fragment buffer.
func (c *transportConn) reassemble(last []byte) []byte {
	msg := util.Concat(append(c.fragments, last)...)
	c.dropFragments()

	return msg
}

// checkFragment rejects a data object that would grow the message being
// reassembled beyond MaxMessageSize. The partial message is discarded.
func (c *transportConn) checkFragment(obj tpduObject) error {
	if c.fragmentSize+len(obj.body) <= MaxMessageSize {
		return nil
	}
	size := c.fragmentSize + len(obj.body)
	c.dropFragments()

	return protocolError(c.slotID, obj.tag, "message of %d bytes exceeds %d", size, MaxMessageSize)
}

func (c *transportConn) dropFragments() {
	c.fragments = nil
	c.fragmentSize = 0
}

// tick sends an idle poll and checks the response timeout of a slot's connection.
func (t *transport) tick(slotID uint8) error {
	c, ok := t.conns[slotID]
	if !ok {
		return nil
	}

	now := t.now()
	if c.pending {
		if now.Sub(c.sentAt) > t.cfg.responseTimeout {
			return protocolError(slotID, 0, "no response within %v", t.cfg.responseTimeout)
		}
		return nil
	}

	if !c.active || t.cfg.pollInterval == 0 || !c.outbox.IsEmpty() {
		return nil
	}
	if now.Sub(c.lastPoll) < t.cfg.pollInterval {
		return nil
	}

	c.lastPoll = now
	t.metrics.incPollCount()

	return t.submit(slotID, TagDataLast, nil)
}
