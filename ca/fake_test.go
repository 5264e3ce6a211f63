package ca

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-dvb/internal/asn1"
	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// fakeDevice is an in-memory CA device. Frames written by the host are
// collected in order and, when cam is set, answered by the simulated module.
type fakeDevice struct {
	mu sync.Mutex

	caps          Caps
	emptyCapsCall int // number of CA_GET_CAP calls reporting no slot
	slots         map[int32]SlotInfo
	callErr       map[Command]error
	calls         []Command

	stream    []byte   // bytes accepted by Writev
	consumed  int      // bytes of stream already split into frames
	frames    [][]byte // complete frames written by the host
	maxWrite  int      // accepted bytes per Writev when > 0
	blockNext int      // Writev calls returning ErrWouldBlock
	writeErr  error

	inbox   [][]byte
	readErr error

	cam    *camSim
	closed bool
}

var _ Device = (*fakeDevice)(nil)

func newFakeDevice(slots ...SlotInfo) *fakeDevice {
	d := &fakeDevice{
		caps:    Caps{SlotNum: uint32(len(slots)), SlotType: SlotTypeCILink}, //nolint:gosec
		slots:   make(map[int32]SlotInfo),
		callErr: make(map[Command]error),
	}
	for _, s := range slots {
		d.slots[s.Num] = s
	}

	return d
}

func linkSlot(num int32, flags uint32) SlotInfo {
	return SlotInfo{Num: num, Type: int32(SlotTypeCILink), Flags: flags}
}

func (d *fakeDevice) opener() Opener {
	return func(string) (Device, error) { return d, nil }
}

func (d *fakeDevice) Call(cmd Command, arg any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, cmd)
	if err := d.callErr[cmd]; err != nil {
		return err
	}

	switch cmd {
	case CmdGetCaps:
		caps, _ := arg.(*Caps)
		*caps = d.caps
		if d.emptyCapsCall > 0 {
			d.emptyCapsCall--
			caps.SlotNum = 0
		}
	case CmdGetSlotInfo:
		info, _ := arg.(*SlotInfo)
		if s, ok := d.slots[info.Num]; ok {
			*info = s
		}
	}

	return nil
}

func (d *fakeDevice) setFlags(num int32, flags uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.slots[num]
	s.Flags = flags
	d.slots[num] = s
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.readErr != nil {
		return 0, d.readErr
	}
	if len(d.inbox) == 0 {
		return 0, ErrWouldBlock
	}

	frame := d.inbox[0]
	d.inbox = d.inbox[1:]

	return copy(p, frame), nil
}

func (d *fakeDevice) push(frames ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inbox = append(d.inbox, frames...)
}

func (d *fakeDevice) Writev(bufs ...[]byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writeErr != nil {
		return 0, d.writeErr
	}
	if d.blockNext > 0 {
		d.blockNext--
		return 0, ErrWouldBlock
	}

	var data []byte
	for _, b := range bufs {
		data = append(data, b...)
	}
	if d.maxWrite > 0 && len(data) > d.maxWrite {
		data = data[:d.maxWrite]
	}
	d.stream = append(d.stream, data...)
	d.splitFrames()

	return len(data), nil
}

// splitFrames moves every complete frame of the stream to d.frames.
func (d *fakeDevice) splitFrames() {
	for {
		rest := d.stream[d.consumed:]
		if len(rest) < MinFrameSize {
			return
		}
		length, n, err := asn1.Decode(rest[3:])
		if err != nil {
			return
		}
		size := 3 + n + int(length)
		if len(rest) < size {
			return
		}

		frame := append([]byte(nil), rest[:size]...)
		d.frames = append(d.frames, frame)
		d.consumed += size

		if d.cam != nil {
			d.inbox = append(d.inbox, d.cam.respond(frame)...)
		}
	}
}

// written returns the frames written so far and forgets them.
func (d *fakeDevice) written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	frames := d.frames
	d.frames = nil

	return frames
}

func (d *fakeDevice) Wait(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	ready := len(d.inbox) > 0
	d.mu.Unlock()

	if !ready {
		time.Sleep(min(timeout, 5*time.Millisecond))
	}

	return ready, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true

	return nil
}

// tobj builds one transport object.
func tobj(tag byte, connID byte, body ...byte) []byte {
	obj := []byte{tag}
	obj = asn1.Append(obj, uint16(len(body)+1)) //nolint:gosec
	obj = append(obj, connID)

	return append(obj, body...)
}

// rframe builds a frame received from the module on slotID.
func rframe(slotID uint8, objs ...[]byte) []byte {
	frame := []byte{slotID, slotID + 1}
	for _, o := range objs {
		frame = append(frame, o...)
	}

	return frame
}

// sb builds a TT_SB trailer.
func sb(slotID uint8, dataAvailable bool) []byte {
	status := byte(0)
	if dataAvailable {
		status = statusDataBit
	}

	return tobj(TagSB, slotID+1, status)
}

// camSim answers host TPDUs the way a module does: every C_TPDU gets one
// R_TPDU carrying a TT_SB, and pending SPDUs are delivered on TT_RCV.
type camSim struct {
	outbox   [][]byte // SPDUs the module wants to send
	received [][]byte // SPDUs received from the host
}

func (c *camSim) respond(frame []byte) [][]byte {
	slotID, tag := frame[0], frame[2]
	_, n, _ := asn1.Decode(frame[3:])
	payload := frame[3+n+1:]

	switch tag {
	case TagCreateTC:
		return [][]byte{rframe(slotID, tobj(TagCTCReply, slotID+1), sb(slotID, len(c.outbox) > 0))}
	case TagRcv:
		if len(c.outbox) == 0 {
			return [][]byte{rframe(slotID, sb(slotID, false))}
		}
		spdu := c.outbox[0]
		c.outbox = c.outbox[1:]

		return [][]byte{rframe(slotID, tobj(TagDataLast, slotID+1, spdu...), sb(slotID, len(c.outbox) > 0))}
	case TagDataLast:
		if len(payload) > 0 {
			c.received = append(c.received, append([]byte(nil), payload...))
		}
		return [][]byte{rframe(slotID, sb(slotID, len(c.outbox) > 0))}
	default:
		return [][]byte{rframe(slotID, sb(slotID, len(c.outbox) > 0))}
	}
}

func testLogger() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.DebugLevel, false)
}

func testConfig(t *testing.T, dev *fakeDevice, opts ...Option) *Config {
	t.Helper()

	base := []Option{
		WithOpener(dev.opener()),
		WithLogger(testLogger()),
		WithResetDelay(0),
		WithCapsRetry(3, time.Millisecond),
		WithTickInterval(10 * time.Millisecond),
		WithWriteTimeout(50 * time.Millisecond),
	}
	cfg, err := NewConfig(0, 0, 0, append(base, opts...)...)
	require.NoError(t, err)

	return cfg
}

// registryWith returns a registry serving id with h.
func registryWith(id resource.ID, h resource.Handler) *resource.Registry {
	r := resource.NewRegistry()
	r.Register(id, resource.Static(h))

	return r
}
