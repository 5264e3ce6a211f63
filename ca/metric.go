package ca

import (
	"sync/atomic"
)

// DeviceMetrics contains atomic metrics for a CA device.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type DeviceMetrics struct {
	// TPDUSendCount indicates the number of TPDUs written to the device.
	TPDUSendCount atomic.Uint64
	// TPDURecvCount indicates the number of frames read from the device.
	TPDURecvCount atomic.Uint64
	// PollCount indicates the number of idle link polls sent.
	PollCount atomic.Uint64
	// ProtocolErrCount indicates the number of malformed TPDUs or SPDUs received.
	ProtocolErrCount atomic.Uint64
	// UnknownSessionCount indicates the number of APDUs dropped for a stale session.
	UnknownSessionCount atomic.Uint64

	// SessionOpenCount indicates the number of sessions opened.
	SessionOpenCount atomic.Uint64
	// SessionCloseCount indicates the number of sessions closed.
	SessionCloseCount atomic.Uint64
	// SessionRejectCount indicates the number of session requests answered with a non-OK status.
	SessionRejectCount atomic.Uint64

	// SlotResetCount indicates the number of transport connections (re)created.
	SlotResetCount atomic.Uint64
}

func (m *DeviceMetrics) incTPDUSendCount() {
	m.TPDUSendCount.Add(1)
}

func (m *DeviceMetrics) incTPDURecvCount() {
	m.TPDURecvCount.Add(1)
}

func (m *DeviceMetrics) incPollCount() {
	m.PollCount.Add(1)
}

func (m *DeviceMetrics) incProtocolErrCount() {
	m.ProtocolErrCount.Add(1)
}

func (m *DeviceMetrics) incUnknownSessionCount() {
	m.UnknownSessionCount.Add(1)
}

func (m *DeviceMetrics) incSessionOpenCount() {
	m.SessionOpenCount.Add(1)
}

func (m *DeviceMetrics) addSessionCloseCount(n int) {
	if n > 0 {
		m.SessionCloseCount.Add(uint64(n))
	}
}

func (m *DeviceMetrics) incSessionRejectCount() {
	m.SessionRejectCount.Add(1)
}

func (m *DeviceMetrics) incSlotResetCount() {
	m.SlotResetCount.Add(1)
}
