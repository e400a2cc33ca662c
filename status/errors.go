// Package status carries the error kinds, monotonic counters, and snapshot
// type shared by the hub subsystems. Everything here is cheap to import from
// leaf packages; nothing here imports the rest of the module.
package status

import "errors"

// Error kinds. Wrap with fmt.Errorf("...: %w", Err...) and test with
// errors.Is; the concrete cause rides along in the wrap.
var (
	ErrConfigInvalid     = errors.New("config invalid")
	ErrBindFailed        = errors.New("bind failed")
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrSessionTerminated = errors.New("session terminated")
	ErrParse             = errors.New("parse error")
	ErrQueueOverflow     = errors.New("queue overflow")
	ErrSendFailed        = errors.New("send failed")
)
