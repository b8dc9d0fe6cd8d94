// Package wire implements the framed record codec used on a worker's
// control channel. A record is a list of strings encoded as LEN:PAYLOAD,
// where PAYLOAD is the NUL-joined concatenation of the fields (each field
// followed by a trailing NUL) and LEN is the payload byte length in decimal.
// LEN=0 denotes an explicitly empty record with no payload.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FramingError reports a malformed control-channel record. It is fatal to
// the worker before any hosted code runs.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing: " + e.Reason
}

func framingf(format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// maxPayloadLen bounds a single record's payload. The channel carries entry
// names, argument vectors and environment blocks; a declared length beyond
// this is a corrupt frame, not an allocation request.
const maxPayloadLen = 16 << 20

// Encode writes one record to w. Fields must not contain NUL bytes.
func Encode(w io.Writer, fields []string) error {
	var payload strings.Builder
	for _, f := range fields {
		if strings.ContainsRune(f, 0) {
			return fmt.Errorf("field contains NUL byte: %q", f)
		}
		payload.WriteString(f)
		payload.WriteByte(0)
	}

	if payload.Len() > maxPayloadLen {
		return fmt.Errorf("record payload of %d bytes exceeds %d byte limit", payload.Len(), maxPayloadLen)
	}
	if _, err := fmt.Fprintf(w, "%d:%s,", payload.Len(), payload.String()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Decode reads one record from r. A stream that ends before the declared
// payload length, or whose byte after the payload is not a comma, yields a
// FramingError.
func Decode(r *bufio.Reader) ([]string, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, framingf("expected %d payload bytes: %v", n, err)
	}

	term, err := r.ReadByte()
	if err != nil {
		return nil, framingf("missing record terminator: %v", err)
	}
	if term != ',' {
		return nil, framingf("expected comma terminator after payload, found %q", term)
	}

	return splitFields(string(payload)), nil
}

// readLength consumes decimal digits up to the colon separator.
func readLength(r *bufio.Reader) (int, error) {
	n := 0
	digits := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, framingf("reading record length: %v", err)
		}
		if b == ':' {
			if digits == 0 {
				return 0, framingf("record length has no digits")
			}
			return n, nil
		}
		if b < '0' || b > '9' {
			return 0, framingf("unexpected byte %q in record length", b)
		}
		n = n*10 + int(b-'0')
		digits++
		if n > maxPayloadLen {
			return 0, framingf("record length exceeds %d byte limit", maxPayloadLen)
		}
	}
}

func splitFields(payload string) []string {
	if payload == "" {
		return nil
	}
	parts := strings.Split(payload, "\x00")
	// Every well-formed field carries a trailing NUL, so the final split
	// element is empty and not a field.
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
