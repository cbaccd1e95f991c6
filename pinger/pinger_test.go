package pinger

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjaminclauss/truckping/protocol"
	"github.com/benjaminclauss/truckping/registry"
)

var t1 = registry.Vendor{ID: "T1", Lat: 31.95, Lon: 35.94, TCPPort: 9000, LastSeen: time.Unix(1000, 0), Addr: "10.0.0.5"}

func newRegistry(t *testing.T, vendors ...registry.Vendor) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, v := range vendors {
		require.NoError(t, r.Upsert(v))
	}
	return r
}

// countingConn counts calls to Close.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// pipeDialer connects the client to an in-memory truck that runs serve on its end of the pipe.
type pipeDialer struct {
	serve func(conn net.Conn)

	dials   atomic.Int32
	address string
	conn    *countingConn
}

func (d *pipeDialer) Dial(network, address string, _ time.Duration) (net.Conn, error) {
	d.dials.Add(1)
	d.address = address
	client, server := net.Pipe()
	go d.serve(server)
	d.conn = &countingConn{Conn: client}
	return d.conn, nil
}

// reply reads one ping line and writes response, then closes the truck's end.
func reply(response string, pings chan<- string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		if pings != nil {
			pings <- line
		}
		if response != "" {
			_, _ = conn.Write([]byte(response))
		}
	}
}

func newTestClient(vendors VendorLookup, d *pipeDialer) *Client {
	c := NewClient(vendors)
	c.Dial = d.Dial
	c.ReadTimeout = 100 * time.Millisecond
	return c
}

var ping = protocol.Ping{TruckID: "T1", UserID: "USR1", Addr: "12 Rainbow St", Note: "no onions"}

func TestPing(t *testing.T) {
	pings := make(chan string, 1)
	d := &pipeDialer{serve: reply("ACK truck_id=T1 eta_min=5 queued=2\n", pings)}
	c := newTestClient(newRegistry(t, t1), d)

	res, err := c.Ping(ping)
	require.NoError(t, err)
	assert.Equal(t, &protocol.Ack{TruckID: "T1", ETAMinutes: 5, Queued: 2}, res.Ack)
	assert.False(t, res.Malformed)
	assert.Equal(t, t1, res.Vendor)

	assert.Equal(t, `PING truck_id=T1 user_id=USR1 addr="12 Rainbow St" note="no onions"`+"\n", <-pings)
	assert.Equal(t, "10.0.0.5:9000", d.address)
	assert.Equal(t, int32(1), d.conn.closes.Load())
}

func TestPing_UnknownVendor(t *testing.T) {
	d := &pipeDialer{serve: reply("ACK truck_id=T9 eta_min=1 queued=1\n", nil)}
	c := newTestClient(newRegistry(t, t1), d)

	res, err := c.Ping(protocol.Ping{TruckID: "T9", UserID: "USR1"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrUnknownVendor)

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, Resolving, exchangeErr.State)
	assert.Zero(t, d.dials.Load(), "no connection is attempted for an unknown vendor")
}

func TestPing_InvalidPing(t *testing.T) {
	d := &pipeDialer{serve: reply("", nil)}
	c := newTestClient(newRegistry(t, t1), d)

	_, err := c.Ping(protocol.Ping{TruckID: "T1", UserID: "USR1", Note: `say "hi"`})
	assert.ErrorIs(t, err, ErrInvalidPing)
	assert.ErrorIs(t, err, protocol.ErrInvalidField)
	assert.Zero(t, d.dials.Load())
}

func TestPing_NoResponse(t *testing.T) {
	tests := map[string]func(net.Conn){
		"read times out": func(conn net.Conn) {
			// Read the ping and never answer.
			_, _ = bufio.NewReader(conn).ReadString('\n')
		},
		"truck hangs up": reply("", nil),
	}
	for name, serve := range tests {
		t.Run(name, func(t *testing.T) {
			d := &pipeDialer{serve: serve}
			c := newTestClient(newRegistry(t, t1), d)
			c.ReadTimeout = 20 * time.Millisecond

			res, err := c.Ping(ping)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrNoResponse)

			var exchangeErr *ExchangeError
			require.ErrorAs(t, err, &exchangeErr)
			assert.Equal(t, AwaitingAck, exchangeErr.State)
			assert.Equal(t, int32(1), d.conn.closes.Load(), "connection is closed exactly once")
		})
	}
}

func TestPing_ShortResponse(t *testing.T) {
	d := &pipeDialer{serve: reply("ACK truck_id=T1 eta", nil)}
	c := newTestClient(newRegistry(t, t1), d)

	_, err := c.Ping(ping)
	assert.ErrorIs(t, err, ErrShortResponse)
	assert.Equal(t, int32(1), d.conn.closes.Load())
}

func TestPing_MalformedAck(t *testing.T) {
	d := &pipeDialer{serve: reply("NAK truck_id=T1 busy\r\n", nil)}
	c := newTestClient(newRegistry(t, t1), d)

	res, err := c.Ping(ping)
	require.NoError(t, err)
	assert.True(t, res.Malformed)
	assert.Nil(t, res.Ack)
	assert.Equal(t, "NAK truck_id=T1 busy", res.Raw)
	assert.ErrorIs(t, res.ParseErr, protocol.ErrUnexpectedHeader)
	assert.Equal(t, int32(1), d.conn.closes.Load())
}

func TestPing_ConnectError(t *testing.T) {
	dialErr := errors.New("connection refused")
	c := NewClient(newRegistry(t, t1))
	c.Dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		assert.Equal(t, DefaultTimeout, timeout)
		return nil, dialErr
	}

	_, err := c.Ping(ping)
	assert.ErrorIs(t, err, dialErr)

	var exchangeErr *ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, Connecting, exchangeErr.State)
	assert.Equal(t, "ping T1: connecting: connection refused", err.Error())
}

func TestPing_TCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		reply("ACK truck_id=T1 eta_min=7 queued=1\n", nil)(conn)
	}()

	v := t1
	v.Addr = "127.0.0.1"
	v.TCPPort = l.Addr().(*net.TCPAddr).Port

	res, err := NewClient(newRegistry(t, v)).Ping(ping)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Ack.ETAMinutes)
	assert.Equal(t, 1, res.Ack.Queued)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting ack", AwaitingAck.String())
	assert.Equal(t, "State("+strconv.Itoa(42)+")", State(42).String())
}
