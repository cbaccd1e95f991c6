// Package protocol implements the line-oriented truck protocol.
//
// Every message is a single line terminated by a newline. A line starts with a header token (HB, PING or ACK)
// followed by space-separated key=value fields, like so:
//
//	HB truck_id=T1 lat=31.950000 lon=35.940000 ts=1000 tcp=9000
//	PING truck_id=T1 user_id=USR1 addr="12 Rainbow St" note="no onions"
//	ACK truck_id=T1 eta_min=5 queued=2
//
// Unknown fields are ignored and field order is not significant.
// Text values containing spaces are wrapped in double quotes. There is no escaping: a double quote inside a value
// ends the value.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Message is one of *Heartbeat, *Ping or *Ack.
type Message interface {
	Header() string
	MarshalText() ([]byte, error)
}

const (
	HeartbeatHeader = "HB"
	PingHeader      = "PING"
	AckHeader       = "ACK"
)

const (
	// MaxIDLength is the maximum length of truck and user identifiers. Longer identifiers are truncated on decode.
	MaxIDLength = 15
	// MaxAddrLength is the maximum length of the delivery address carried by a PING.
	MaxAddrLength = 127
	// MaxNoteLength is the maximum length of the free-text note carried by a PING.
	MaxNoteLength = 63
	// MaxLineLength bounds a single encoded message, newline included.
	MaxLineLength = 512
)

var (
	ErrUnexpectedHeader = errors.New("unexpected message header")
	ErrMissingTruckID   = errors.New("missing truck_id")
	ErrMissingUserID    = errors.New("missing user_id")
	ErrInvalidTCPPort   = errors.New("tcp port must be between 1 and 65535")
	// ErrInvalidField is returned when encoding a value that would not survive decoding.
	ErrInvalidField = errors.New("invalid field value")
)

// ParseMessage parses a line into whichever message type its header names.
func ParseMessage(line string) (Message, error) {
	header, _, _ := strings.Cut(trimLine(line), " ")
	switch header {
	case HeartbeatHeader:
		return ParseHeartbeat(line)
	case PingHeader:
		return ParsePing(line)
	case AckHeader:
		return ParseAck(line)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedHeader, header)
	}
}

// body strips the line terminator and the header token. The header must be followed by a space: "HBX ..." and a
// bare "HB" are both rejected.
func body(line, header string) (string, error) {
	line = trimLine(line)
	rest, ok := strings.CutPrefix(line, header+" ")
	if !ok {
		return "", fmt.Errorf("%w: want %s", ErrUnexpectedHeader, header)
	}
	return rest, nil
}

func trimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}

type field struct {
	value  string
	quoted bool
}

// scanFields splits a message body into its key=value fields. Tokens without an equals sign are skipped. When a key
// is repeated the last value wins.
func scanFields(s string) map[string]field {
	fields := make(map[string]field)
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return fields
		}

		end := strings.IndexAny(s, " \t")
		eq := strings.IndexByte(s, '=')
		if eq < 0 || (end >= 0 && eq > end) {
			if end < 0 {
				return fields
			}
			s = s[end:]
			continue
		}

		key := s[:eq]
		s = s[eq+1:]

		var f field
		if rest, ok := strings.CutPrefix(s, `"`); ok {
			f.quoted = true
			if i := strings.IndexByte(rest, '"'); i >= 0 {
				f.value, s = rest[:i], rest[i+1:]
			} else {
				f.value, s = rest, ""
			}
		} else if i := strings.IndexAny(s, " \t"); i >= 0 {
			f.value, s = s[:i], s[i:]
		} else {
			f.value, s = s, ""
		}
		fields[key] = f
	}
}

// id returns an identifier field: its first whitespace-free run, truncated to MaxIDLength.
func (f field) id() string {
	v := f.value
	if i := strings.IndexFunc(v, unicode.IsSpace); i >= 0 {
		v = v[:i]
	}
	return truncate(v, MaxIDLength)
}

// text returns a quoted text field truncated to n bytes. Unquoted text fields read as empty.
func (f field) text(n int) string {
	if !f.quoted {
		return ""
	}
	return truncate(f.value, n)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// scanFloat parses the longest prefix of s that is a valid floating point number.
//
// Malformed numeric fields are not an error: a value with no numeric prefix reads as zero. A heartbeat with
// "lat=abc" is therefore accepted with a latitude of 0.
func scanFloat(s string) float64 {
	for i := len(s); i > 0; i-- {
		f, err := strconv.ParseFloat(s[:i], 64)
		if err == nil || errors.Is(err, strconv.ErrRange) {
			return f
		}
	}
	return 0
}

// scanInt parses an optionally signed run of decimal digits at the start of s. A value with no digits, or one that
// overflows, reads as zero.
func scanInt(s string) int64 {
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func validateID(name, id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, name)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidField, name, MaxIDLength)
	case strings.ContainsFunc(id, unicode.IsSpace):
		return fmt.Errorf("%w: %s contains whitespace", ErrInvalidField, name)
	case strings.Contains(id, `"`):
		// A leading quote would make the decoder read the rest of the line as one quoted value.
		return fmt.Errorf("%w: %s contains a quote", ErrInvalidField, name)
	}
	return nil
}

func validateText(name, s string, n int) error {
	switch {
	case len(s) > n:
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidField, name, n)
	case strings.ContainsAny(s, "\"\r\n"):
		return fmt.Errorf("%w: %s contains a quote or line break", ErrInvalidField, name)
	}
	return nil
}
