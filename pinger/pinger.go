// Package pinger asks a single truck to come over and waits for its acknowledgement.
//
// An exchange goes through the states Resolving, Connecting and AwaitingAck, and ends as Done or Failed:
//
//   - Resolving: the truck is looked up among the trucks heard from recently.
//   - Connecting: a TCP connection is opened to the address the truck's heartbeats came from.
//   - AwaitingAck: a PING line is written and one ACK line is read back.
//
// Every network step is bounded by a timeout. An exchange cannot be cancelled once started.
package pinger

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/benjaminclauss/truckping/protocol"
	"github.com/benjaminclauss/truckping/registry"
)

// DefaultTimeout bounds connecting, writing the ping and reading the ack.
const DefaultTimeout = 2 * time.Second

type State int

const (
	Resolving State = iota
	Connecting
	AwaitingAck
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case AwaitingAck:
		return "awaiting ack"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	// ErrUnknownVendor means no heartbeat has been received from the truck. Listen for heartbeats first.
	ErrUnknownVendor = errors.New("vendor unknown")
	ErrInvalidPing   = errors.New("invalid ping")
	ErrNoResponse    = errors.New("no response")
	// ErrShortResponse means the truck sent part of a line and then went quiet or hung up.
	ErrShortResponse = errors.New("incomplete response")
)

// ExchangeError reports the state an exchange failed in.
type ExchangeError struct {
	TruckID string
	State   State
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("ping %s: %s: %v", e.TruckID, e.State, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Result is a completed exchange. When the truck answered with a line that is not a valid ACK, Malformed is set,
// Ack is nil and Raw holds the line.
type Result struct {
	Vendor    registry.Vendor
	Ack       *protocol.Ack
	Malformed bool
	Raw       string
	ParseErr  error
}

type VendorLookup interface {
	Lookup(id string) (registry.Vendor, bool)
}

// DialFunc opens a connection within timeout. net.DialTimeout is one.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

type Client struct {
	Vendors VendorLookup
	// Dial defaults to net.DialTimeout.
	Dial DialFunc

	// Zero timeouts use DefaultTimeout.
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

func NewClient(vendors VendorLookup) *Client {
	return &Client{
		Vendors:        vendors,
		Dial:           net.DialTimeout,
		ConnectTimeout: DefaultTimeout,
		WriteTimeout:   DefaultTimeout,
		ReadTimeout:    DefaultTimeout,
	}
}

// Ping sends p to the truck p.TruckID and returns its acknowledgement.
//
// Errors are *ExchangeError values wrapping ErrUnknownVendor, ErrInvalidPing, ErrNoResponse, ErrShortResponse or
// the underlying network error. A reply that is not a valid ACK is not an error; see Result.
func (c *Client) Ping(p protocol.Ping) (*Result, error) {
	slog.Debug("ping", "state", Resolving, "truck_id", p.TruckID)
	v, ok := c.Vendors.Lookup(p.TruckID)
	if !ok {
		return nil, c.fail(p.TruckID, Resolving, ErrUnknownVendor)
	}
	data, err := p.MarshalText()
	if err != nil {
		return nil, c.fail(p.TruckID, Resolving, fmt.Errorf("%w: %w", ErrInvalidPing, err))
	}

	address := net.JoinHostPort(v.Addr, strconv.Itoa(v.TCPPort))
	slog.Debug("ping", "state", Connecting, "truck_id", p.TruckID, "address", address)
	dial := c.Dial
	if dial == nil {
		dial = net.DialTimeout
	}
	conn, err := dial("tcp", address, cmp.Or(c.ConnectTimeout, DefaultTimeout))
	if err != nil {
		return nil, c.fail(p.TruckID, Connecting, err)
	}
	defer closeOrLog(conn)

	slog.Debug("ping", "state", AwaitingAck, "truck_id", p.TruckID, "remote_addr", conn.RemoteAddr())
	line, err := c.roundTrip(conn, append(data, '\n'))
	if err != nil {
		return nil, c.fail(p.TruckID, AwaitingAck, err)
	}

	res := &Result{Vendor: v, Raw: line}
	res.Ack, res.ParseErr = protocol.ParseAck(line)
	if res.ParseErr != nil {
		res.Ack = nil
		res.Malformed = true
		slog.Warn("malformed ack", "truck_id", p.TruckID, "line", line, "err", res.ParseErr)
	}
	slog.Debug("ping", "state", Done, "truck_id", p.TruckID)
	return res, nil
}

// roundTrip writes request and reads a single newline-terminated line, without its terminator.
func (c *Client) roundTrip(conn net.Conn, request []byte) (string, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(cmp.Or(c.WriteTimeout, DefaultTimeout))); err != nil {
		return "", err
	}
	if _, err := conn.Write(request); err != nil {
		return "", fmt.Errorf("write error: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(cmp.Or(c.ReadTimeout, DefaultTimeout))); err != nil {
		return "", err
	}
	reader := bufio.NewReader(io.LimitReader(conn, protocol.MaxLineLength))
	line, err := reader.ReadString('\n')
	if err != nil {
		if line == "" {
			return "", fmt.Errorf("%w: %w", ErrNoResponse, err)
		}
		return "", fmt.Errorf("%w: %q: %w", ErrShortResponse, line, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Client) fail(truckID string, s State, err error) error {
	slog.Debug("ping", "state", Failed, "truck_id", truckID, "failed_in", s, "err", err)
	return &ExchangeError{TruckID: truckID, State: s, Err: err}
}

func closeOrLog(conn net.Conn) {
	if err := conn.Close(); err != nil {
		slog.Error("error closing connection", "err", err, "remote_addr", conn.RemoteAddr())
	}
}
