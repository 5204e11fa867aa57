package edgesource

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"engine-position-go/pkg/errors"
)

// Capture file format: one edge per line, `<time> <signal> <r|f>`,
// where signal is `crank` or `cam`. Blank lines and `#` comments are
// skipped. The serial capture logger emits the same records, so a
// logged session can be replayed byte for byte.

// Replay reads edges from a capture stream.
type Replay struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	line    int
}

// OpenReplay opens a capture file.
func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.CaptureSourceError(path, err)
	}
	return NewReplay(f), nil
}

// NewReplay reads capture records from rc.
func NewReplay(rc io.ReadCloser) *Replay {
	return &Replay{rc: rc, scanner: bufio.NewScanner(rc)}
}

// Next returns the next edge, io.EOF at end of stream, or a
// CAPTURE_FORMAT error naming the offending line.
func (r *Replay) Next() (Edge, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		edge, err := parseEdge(text)
		if err != nil {
			return Edge{}, errors.CaptureFormatError(r.line, err.Error())
		}
		return edge, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Edge{}, errors.CaptureSourceError("replay", err)
	}
	return Edge{}, io.EOF
}

// Close closes the underlying stream.
func (r *Replay) Close() error {
	return r.rc.Close()
}

func parseEdge(text string) (Edge, error) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		return Edge{}, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	t, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Edge{}, fmt.Errorf("bad timestamp %q", fields[0])
	}
	var sig Signal
	switch fields[1] {
	case "crank":
		sig = SignalCrank
	case "cam":
		sig = SignalCam
	default:
		return Edge{}, fmt.Errorf("bad signal %q", fields[1])
	}
	var rising bool
	switch fields[2] {
	case "r":
		rising = true
	case "f":
		rising = false
	default:
		return Edge{}, fmt.Errorf("bad polarity %q", fields[2])
	}
	return Edge{Time: t, Signal: sig, Rising: rising}, nil
}

// Writer records edges in the capture format.
type Writer struct {
	w  *bufio.Writer
	wc io.WriteCloser
}

// CreateCapture creates a capture file, truncating any existing one.
func CreateCapture(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.CaptureStoreError("create", err)
	}
	return NewWriter(f), nil
}

// NewWriter records capture records to wc.
func NewWriter(wc io.WriteCloser) *Writer {
	return &Writer{w: bufio.NewWriter(wc), wc: wc}
}

// Write appends one edge record.
func (w *Writer) Write(edge Edge) error {
	pol := "f"
	if edge.Rising {
		pol = "r"
	}
	if _, err := fmt.Fprintf(w.w, "%d %s %s\n", edge.Time, edge.Signal, pol); err != nil {
		return errors.CaptureStoreError("write", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.wc.Close()
		return errors.CaptureStoreError("flush", err)
	}
	return w.wc.Close()
}
