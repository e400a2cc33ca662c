// Package led drives RGB pixel strips over the transports the visualizer
// supports: a framed serial link, DDP over UDP, or a null sink for headless
// runs.
package led

// Driver pushes rendered frames to a strip. A frame is 3 bytes per LED in
// RGB order. Implementations are not safe for concurrent Write.
type Driver interface {
	Write(frame []byte) error
	Close() error
}

// Null discards frames. It stands in when no strip is attached.
type Null struct{}

func (Null) Write([]byte) error { return nil }
func (Null) Close() error       { return nil }
