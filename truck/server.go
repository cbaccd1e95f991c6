package truck

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/benjaminclauss/truckping/protocol"
)

const (
	DefaultMinutesPerOrder = 5
	DefaultConnTimeout     = 2 * time.Second
	DefaultMaxConns        = 64

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

var ErrWrongTruck = errors.New("ping addressed to another truck")

// An Order is a ping the truck has accepted and not yet completed.
type Order struct {
	ID       uuid.UUID
	UserID   string
	Addr     string
	Note     string
	Received time.Time
}

// Server answers pings for a single truck.
//
// Each connection carries exactly one PING line. The truck queues an order and replies with one ACK line carrying
// its estimated arrival time and the queue length. Malformed pings, and pings for another truck, are dropped by
// closing the connection without a reply.
type Server struct {
	TruckID string
	// MinutesPerOrder is how long each queued order adds to the ETA.
	MinutesPerOrder int
	// ConnTimeout bounds reading the ping and writing the ack.
	ConnTimeout time.Duration
	MaxConns    int
	// Now defaults to time.Now.
	Now func() time.Time

	ConnectionID atomic.Uint64

	mu     sync.Mutex
	orders []Order
}

func NewServer(truckID string) *Server {
	return &Server{
		TruckID:         truckID,
		MinutesPerOrder: DefaultMinutesPerOrder,
		ConnTimeout:     DefaultConnTimeout,
		Now:             time.Now,
	}
}

// Serve accepts connections until ctx is done, handling each in its own goroutine. At most MaxConns connections are
// handled at once. Serve closes l and waits for in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if err := l.Close(); err != nil {
			slog.Error("error closing listener", "err", err, "addr", l.Addr())
		}
	})
	defer stop()

	var g errgroup.Group
	g.SetLimit(cmp.Or(s.MaxConns, DefaultMaxConns))

	slog.Info("serving pings", "truck_id", s.TruckID, "addr", l.Addr())
	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				_ = g.Wait()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
			// Errors such as running out of file descriptors clear up once connections finish.
			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			slog.Error("accept error", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		g.Go(func() error {
			if err := s.Handle(conn); err != nil {
				slog.Warn("ping rejected", "err", err, "remote_addr", conn.RemoteAddr())
			}
			return nil
		})
	}
}

// Handle handles a single ping connection.
func (s *Server) Handle(conn net.Conn) error {
	id := s.ConnectionID.Add(1)
	defer closeOrLog(conn)

	timeout := cmp.Or(s.ConnTimeout, DefaultConnTimeout)
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	line, err := bufio.NewReader(io.LimitReader(conn, protocol.MaxLineLength)).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	p, err := protocol.ParsePing(line)
	if err != nil {
		return err
	}
	if p.TruckID != s.TruckID {
		return fmt.Errorf("%w: %s", ErrWrongTruck, p.TruckID)
	}

	order, queued := s.enqueue(p)
	slog.Info("order received", "connection", id, "order", order.ID, "user_id", order.UserID, "addr", order.Addr,
		"note", order.Note, "queued", queued)

	ack := &protocol.Ack{TruckID: s.TruckID, ETAMinutes: s.eta(queued), Queued: queued}
	data, err := ack.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

func (s *Server) enqueue(p *protocol.Ping) (Order, int) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	o := Order{ID: uuid.New(), UserID: p.UserID, Addr: p.Addr, Note: p.Note, Received: now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	return o, len(s.orders)
}

func (s *Server) eta(queued int) int {
	return queued * s.MinutesPerOrder
}

// Orders returns a copy of the queue, oldest first.
func (s *Server) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders)
}

// CompleteNext removes the oldest order from the queue.
func (s *Server) CompleteNext() (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.orders) == 0 {
		return Order{}, false
	}
	o := s.orders[0]
	s.orders = s.orders[1:]
	return o, true
}

func closeOrLog(conn net.Conn) {
	if err := conn.Close(); err != nil {
		slog.Error("error closing connection", "err", err, "remote_addr", conn.RemoteAddr())
	}
}
