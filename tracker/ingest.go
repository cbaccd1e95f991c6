// Package tracker turns heartbeats into registry updates and registry snapshots into distance-sorted rows.
package tracker

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/benjaminclauss/truckping/protocol"
	"github.com/benjaminclauss/truckping/registry"
)

const (
	DefaultMinBackoff = 20 * time.Millisecond
	DefaultMaxBackoff = time.Second

	// maxDatagramSize is large enough for any datagram a UDP socket can deliver.
	maxDatagramSize = 64 * 1024
)

type VendorStore interface {
	Upsert(v registry.Vendor) error
}

// Ingester reads heartbeats from a packet connection and records them in a VendorStore.
//
// Heartbeats are unordered and may be lost, duplicated or malformed. Malformed heartbeats are dropped. Receive
// errors never stop the Ingester: it backs off and reads again.
type Ingester struct {
	Store VendorStore
	// Now stamps accepted heartbeats. Defaults to time.Now.
	Now func() time.Time

	MinBackoff time.Duration
	MaxBackoff time.Duration

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func NewIngester(store VendorStore) *Ingester {
	return &Ingester{
		Store:      store,
		Now:        time.Now,
		MinBackoff: DefaultMinBackoff,
		MaxBackoff: DefaultMaxBackoff,
	}
}

// Listen reads datagrams until ctx is done, then closes conn and returns ctx.Err().
func (in *Ingester) Listen(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		if err := conn.Close(); err != nil {
			slog.Error("error closing heartbeat connection", "err", err, "local_addr", conn.LocalAddr())
		}
	})
	defer stop()

	slog.Info("listening for heartbeats", "local_addr", conn.LocalAddr())
	buf := make([]byte, maxDatagramSize)
	minBackoff := cmp.Or(in.MinBackoff, DefaultMinBackoff)
	maxBackoff := cmp.Or(in.MaxBackoff, DefaultMaxBackoff)
	backoff := minBackoff
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("heartbeat receive error", "err", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		in.HandleDatagram(buf[:n], addr)
	}
}

// HandleDatagram records every valid heartbeat line in data as sent from addr, and returns how many were accepted.
func (in *Ingester) HandleDatagram(data []byte, addr net.Addr) int {
	accepted := 0
	for line := range bytes.Lines(data) {
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		if err := in.handleLine(string(line), addr); err != nil {
			in.rejected.Add(1)
			slog.Debug("dropping heartbeat", "err", err, "remote_addr", addr)
			continue
		}
		in.accepted.Add(1)
		accepted++
	}
	return accepted
}

func (in *Ingester) handleLine(line string, addr net.Addr) error {
	hb, err := protocol.ParseHeartbeat(line)
	if err != nil {
		return err
	}

	now := time.Now
	if in.Now != nil {
		now = in.Now
	}
	v := registry.Vendor{
		ID:       hb.TruckID,
		Lat:      hb.Lat,
		Lon:      hb.Lon,
		TCPPort:  hb.TCPPort,
		LastSeen: now(),
		Addr:     host(addr),
	}
	if err := in.Store.Upsert(v); err != nil {
		if errors.Is(err, registry.ErrRegistryFull) {
			slog.Warn("registry full, dropping heartbeat", "truck_id", v.ID, "remote_addr", addr)
		}
		return err
	}
	slog.Debug("heartbeat", "truck_id", v.ID, "lat", v.Lat, "lon", v.Lon, "tcp", v.TCPPort, "remote_addr", addr)
	return nil
}

// Stats returns the number of heartbeat lines accepted and rejected so far.
func (in *Ingester) Stats() (accepted, rejected uint64) {
	return in.accepted.Load(), in.rejected.Load()
}

// host returns the host part of addr, without the port.
func host(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	h, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return h
}

// sleep waits for d or until ctx is done, reporting whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
