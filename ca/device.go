package ca

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/go-dvb/internal/pool"
	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
	"github.com/puzpuzpuz/xsync/v3"
)

// CaDevice is an opened CA device driving the CI slots of a DVB adapter.
//
// A CaDevice is owned by one goroutine which calls Event, Tick or Run and
// finally Close. SlotState and Metrics may be called from any goroutine.
type CaDevice struct {
	cfg    *Config
	dev    Device
	logger logger.Logger

	caps       Caps
	slots      []Slot
	slotStates *xsync.MapOf[uint8, SlotState]

	tr      *transport
	sl      *sessionLayer
	mgr     *resource.Manager
	metrics DeviceMetrics

	readBuf []byte
	closed  bool
}

// Open opens the CA device described by cfg, resets it and waits until it
// reports its slots.
//
// The configured slot must exist and be a link layer CI slot. An empty slot
// is not an error: the module is picked up by Tick once inserted.
func Open(ctx context.Context, cfg *Config) (*CaDevice, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	path := cfg.Path()
	dev, err := cfg.opener(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}

	d := &CaDevice{
		cfg:        cfg,
		dev:        dev,
		logger:     cfg.logger.With("device", path),
		slotStates: xsync.NewMapOf[uint8, SlotState](),
		readBuf:    make([]byte, cfg.readBufferSize),
	}

	d.sl = &sessionLayer{logger: d.logger, metrics: &d.metrics}
	d.tr = newTransport(dev, cfg, d.logger, &d.metrics, d.sl.handle)
	d.mgr = resource.NewManager(cfg.registry, d.sl.sendAPDU, d.logger)
	d.sl.tr = d.tr
	d.sl.mgr = d.mgr

	if err := d.setup(ctx); err != nil {
		if cerr := dev.Close(); cerr != nil {
			d.logger.Warn("failed to close device", "error", cerr)
		}
		return nil, err
	}

	return d, nil
}

func (d *CaDevice) setup(ctx context.Context) error {
	if err := d.call(CmdReset, nil); err != nil {
		return err
	}
	if err := pool.Sleep(ctx, d.cfg.resetDelay); err != nil {
		return err
	}

	if err := d.readCaps(ctx); err != nil {
		return err
	}

	if uint32(d.cfg.slot) >= d.caps.SlotNum {
		return fmt.Errorf("%w: slot %d, device has %d", ErrInvalidSlot, d.cfg.slot, d.caps.SlotNum)
	}

	for i := range d.caps.SlotNum {
		slotID := uint8(i) //nolint:gosec // CA devices expose a handful of slots
		info, err := d.slotInfo(slotID)
		if err != nil {
			return err
		}

		slot := Slot{ID: slotID, Type: uint32(info.Type), State: ModuleNotFound} //nolint:gosec // bitmap
		if !slot.IsLinkLayer() {
			if slotID == d.cfg.slot {
				return fmt.Errorf("%w: slot %d type 0x%X", ErrIncompatibleInterface, slotID, slot.Type)
			}
			d.logger.Info("skip slot without link layer interface", "slot", slotID, "type", slot.Type)
			continue
		}

		d.slots = append(d.slots, slot)
		d.slotStates.Store(slotID, ModuleNotFound)

		state := slotStateFromFlags(info.Flags)
		if state == ModuleNotFound {
			d.logger.Info(ErrModuleAbsent.Error(), "slot", slotID)
			continue
		}
		if err := d.updateSlot(len(d.slots)-1, state); err != nil {
			return err
		}
	}

	d.logger.Info("ca device opened", "slots", len(d.slots), "slot_type", d.caps.SlotType, "descr_num", d.caps.DescrNum)

	return nil
}

// readCaps queries the capabilities until at least one slot is reported.
func (d *CaDevice) readCaps(ctx context.Context) error {
	count, delay := d.cfg.CapsRetry()
	for attempt := 1; ; attempt++ {
		if err := d.call(CmdGetCaps, &d.caps); err != nil {
			return err
		}
		if d.caps.SlotNum > 0 {
			return nil
		}
		if attempt >= count {
			return fmt.Errorf("%w after %d attempts", ErrNoSlots, attempt)
		}

		d.logger.Debug("no slots reported, retrying", "attempt", attempt)
		if err := pool.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (d *CaDevice) call(cmd Command, arg any) error {
	if err := d.dev.Call(cmd, arg); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}

	return nil
}

func (d *CaDevice) slotInfo(slotID uint8) (SlotInfo, error) {
	info := SlotInfo{Num: int32(slotID)}
	if err := d.call(CmdGetSlotInfo, &info); err != nil {
		return info, err
	}

	return info, nil
}

// updateSlot applies a new module state to d.slots[idx].
func (d *CaDevice) updateSlot(idx int, state SlotState) error {
	slot := &d.slots[idx]
	prev := slot.State
	if prev == state {
		return nil
	}

	slot.State = state
	d.slotStates.Store(slot.ID, state)
	d.logger.Info("slot state changed", "slot", slot.ID, "from", prev.String(), "to", state.String())

	if prev == ModuleReady {
		d.closeSlot(slot.ID)
		d.tr.drop(slot.ID)
	}

	switch state {
	case ModuleReady:
		return d.tr.init(slot.ID)
	case ModuleNotFound:
		d.logger.Info(ErrModuleAbsent.Error(), "slot", slot.ID)
	}

	return nil
}

func (d *CaDevice) closeSlot(slotID uint8) {
	closed := d.mgr.CloseSlot(slotID)
	if len(closed) > 0 {
		d.metrics.addSessionCloseCount(len(closed))
		d.logger.Info("sessions closed", "slot", slotID, "sessions", closed)
	}
}

// recoverSlot handles a protocol error of a slot by closing its sessions
// and re-creating its transport connection.
func (d *CaDevice) recoverSlot(perr *ProtocolError) error {
	d.metrics.incProtocolErrCount()
	d.logger.Warn("protocol error, resetting transport connection", "slot", perr.SlotID, "error", perr)

	idx := d.slotIndex(perr.SlotID)
	if idx < 0 {
		return nil
	}

	d.closeSlot(perr.SlotID)
	d.tr.drop(perr.SlotID)
	if d.slots[idx].State == ModuleReady {
		return d.tr.init(perr.SlotID)
	}

	return nil
}

// handleError routes protocol errors to slot recovery; other errors are fatal.
func (d *CaDevice) handleError(err error) error {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return d.recoverSlot(perr)
	}

	return err
}

func (d *CaDevice) slotIndex(slotID uint8) int {
	return slices.IndexFunc(d.slots, func(s Slot) bool { return s.ID == slotID })
}

// Tick re-reads the state of every slot and applies module insertion and
// removal. It then drives link polling and the periodic hook of every
// active resource session.
func (d *CaDevice) Tick() error {
	if d.closed {
		return ErrDeviceClosed
	}

	for i := range d.slots {
		info, err := d.slotInfo(d.slots[i].ID)
		if err != nil {
			return err
		}
		if err := d.updateSlot(i, slotStateFromFlags(info.Flags)); err != nil {
			return d.handleError(err)
		}
	}

	for _, slot := range d.slots {
		if slot.State != ModuleReady {
			continue
		}

		var err error
		if d.tr.needsInit(slot.ID) {
			d.closeSlot(slot.ID)
			err = d.tr.init(slot.ID)
		} else {
			err = d.tr.tick(slot.ID)
		}
		if err != nil {
			if err := d.handleError(err); err != nil {
				return err
			}
		}
	}

	if err := d.mgr.ManageAll(); err != nil {
		d.logger.Error("resource manage failed", "error", err)
	}

	return nil
}

// Event reads one frame from the device and processes it. It returns nil
// when no frame is available.
//
// Protocol errors reset the transport connection of the affected slot and
// are not returned; only device errors are.
func (d *CaDevice) Event() error {
	if d.closed {
		return ErrDeviceClosed
	}

	n, err := d.dev.Read(d.readBuf)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrDeviceIO, err)
	}
	if n == 0 {
		return nil
	}

	if err := d.tr.onFrame(d.readBuf[:n]); err != nil {
		return d.handleError(err)
	}

	return nil
}

// SlotState returns the module state of a slot.
func (d *CaDevice) SlotState(slotID uint8) (SlotState, error) {
	state, ok := d.slotStates.Load(slotID)
	if !ok {
		return ModuleNotFound, fmt.Errorf("%w: %d", ErrInvalidSlot, slotID)
	}

	return state, nil
}

// Slots returns the link layer slots of the device.
func (d *CaDevice) Slots() []Slot {
	return slices.Clone(d.slots)
}

// Caps returns the capabilities reported by the device.
func (d *CaDevice) Caps() Caps {
	return d.caps
}

// Manager returns the resource session manager.
func (d *CaDevice) Manager() *resource.Manager {
	return d.mgr
}

// Metrics returns the device metrics.
func (d *CaDevice) Metrics() *DeviceMetrics {
	return &d.metrics
}

// Close asks the modules to close every open session, closes the resource
// handlers and releases the device. Failures are logged; Close always
// releases the handle.
func (d *CaDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	for _, s := range d.mgr.Sessions() {
		if c, ok := d.tr.conn(s.SlotID()); !ok || !c.active {
			continue
		}
		if err := d.tr.send(s.SlotID(), TagDataLast, closeSessionRequest(s.ID())); err != nil {
			d.logger.Warn("failed to send close session request", "slot", s.SlotID(), "session", s.ID(), "error", err)
		}
	}

	for _, slot := range d.slots {
		d.closeSlot(slot.ID)
		d.tr.drop(slot.ID)
	}

	if err := d.dev.Close(); err != nil {
		d.logger.Warn("failed to close device", "error", err)
	}
	d.logger.Info("ca device closed")

	return nil
}
