// Package ca provides host side access to a Linux DVB CA device and
// implements the EN 50221 Common Interface transport and session layers
// on top of it.
//
// # Layers
//
// A CaDevice owns the device handle and the slots it reports. For every
// slot holding a ready module it keeps one transport connection
// (connection id = slot id + 1) over which TPDUs are exchanged:
//
//	[slot][conn][tag][length][conn][body...]
//
// Complete messages, possibly reassembled from TT_DATA_MORE fragments, are
// handed to the session layer which multiplexes resource sessions:
//
//	[tag][length][session number(2)][apdu...]
//
// Session management is delegated to a resource.Manager and the APDUs of
// each session to the resource.Handler registered for its resource.
//
// # Link model
//
// The CI link is a half-duplex command/response bus. The host sends one
// command TPDU and waits for the module's response before sending the
// next; commands produced while a response is pending are queued per slot.
// Every response carries a status byte (TT_SB). When its data-available
// bit is set the host fetches the data with TT_RCV. An idle connection is
// polled with an empty TT_DATA_LAST on every poll interval.
//
// # Driving the device
//
// CaDevice is single threaded. An external reactor calls Event when the
// device is readable and Tick periodically (about every 100 ms), or the
// caller runs the built-in loop with Run. SlotState and Metrics are the
// only methods safe to call from other goroutines.
package ca
