// Package resource implements the EN 50221 application layer seen from the
// host: the table of resource sessions and the seam through which
// resource specific handlers plug into the CI stack.
//
// A CAM asks the host for a resource by its 32-bit resource identifier.
// The Manager looks the identifier up in a Registry, allocates a session
// number, and once the session is opened instantiates the Handler built by
// the registered Factory. APDUs received on the session are routed to that
// handler; handlers answer through Session.Send.
//
// Session lifecycle:
//
//	Init   -> Pending
//	Open   -> Active   (Handler.Open)
//	Close  -> Closed   (Handler.Close, record removed)
//
// Close is idempotent: closing an unknown or already closed session succeeds.
//
// The Manager is owned by a single goroutine (the CA device reactor) and
// is not safe for concurrent use. The Registry may be shared.
package resource
