package edgesource

import (
	"bufio"
	"io"
	"strings"

	"go.bug.st/serial"

	"engine-position-go/pkg/errors"
	"engine-position-go/pkg/log"
)

// Serial reads edges from a hardware capture logger that streams
// capture-format records over a serial port.
type Serial struct {
	port    serial.Port
	scanner *bufio.Scanner
	logger  *log.Logger
	line    int
}

// OpenSerial opens the capture logger port.
func OpenSerial(device string, baud int) (*Serial, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.CaptureSourceError(device, err)
	}
	logger := log.GetLogger("edgesource")
	logger.WithField("device", device).WithField("baud", baud).Info("capture logger connected")
	return &Serial{port: port, scanner: bufio.NewScanner(port), logger: logger}, nil
}

// Next returns the next edge from the logger. Malformed lines are
// skipped with a warning; a saturated serial link drops characters
// and a single bad record must not kill a live session.
func (s *Serial) Next() (Edge, error) {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		edge, err := parseEdge(text)
		if err != nil {
			s.logger.WithField("line", s.line).Warn("skipping bad record: %v", err)
			continue
		}
		return edge, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Edge{}, errors.CaptureSourceError("serial", err)
	}
	return Edge{}, io.EOF
}

// Close closes the port.
func (s *Serial) Close() error {
	return s.port.Close()
}
