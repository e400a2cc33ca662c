package led

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/jgraeff/midihub/logging"
)

const (
	sof0          = 0xAA
	sof1          = 0x55
	cmdApplyFrame = 0x10

	// maxPayload is what the one-byte length field can carry alongside the
	// command byte.
	maxPayload = 254

	defaultBaud = 115200
)

// Serial drives a strip over a USB serial link. Each frame travels as one
// framed transfer:
//
//	[SOF0][SOF1][LEN][CMD][rgb payload][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of everything after the start
// bytes.
type Serial struct {
	port serial.Port
}

// OpenSerial opens the named device. Zero or negative baud uses 115200.
func OpenSerial(name string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = defaultBaud
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	logging.Get(logging.VIZ).Info("serial led driver opened", "device", name, "baud", baud)
	return &Serial{port: port}, nil
}

func (s *Serial) Write(frame []byte) error {
	buf, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	if _, err := s.port.Write(buf); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (s *Serial) Close() error { return s.port.Close() }

// encodeFrame wraps payload in the link framing.
func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("frame too large for serial link: %d bytes", len(payload))
	}
	length := byte(len(payload) + 1)
	cks := length ^ cmdApplyFrame
	for _, b := range payload {
		cks ^= b
	}
	out := make([]byte, 0, len(payload)+5)
	out = append(out, sof0, sof1, length, cmdApplyFrame)
	out = append(out, payload...)
	out = append(out, cks)
	return out, nil
}
