// Package truck implements the vendor side of the protocol: broadcasting heartbeats and answering pings.
package truck

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benjaminclauss/truckping/protocol"
)

const DefaultHeartbeatInterval = time.Second

// PositionFunc reports where the truck is right now.
type PositionFunc func() (lat, lon float64)

// FixedPosition is a PositionFunc for a parked truck.
func FixedPosition(lat, lon float64) PositionFunc {
	return func() (float64, float64) { return lat, lon }
}

// Broadcaster periodically writes a heartbeat for one truck.
type Broadcaster struct {
	TruckID  string
	TCPPort  int
	Position PositionFunc
	Interval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Heartbeat returns the heartbeat for the truck's current position.
func (b *Broadcaster) Heartbeat() *protocol.Heartbeat {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	lat, lon := b.Position()
	return &protocol.Heartbeat{
		TruckID:   b.TruckID,
		Lat:       lat,
		Lon:       lon,
		Timestamp: now().Unix(),
		TCPPort:   b.TCPPort,
	}
}

// Run writes a heartbeat line to w immediately and then once per interval until ctx is done.
//
// Heartbeats may be lost, so write errors are logged and the next heartbeat is sent as usual. Run fails fast if the
// truck's identity cannot be encoded.
func (b *Broadcaster) Run(ctx context.Context, w io.Writer) error {
	if _, err := b.Heartbeat().MarshalText(); err != nil {
		return fmt.Errorf("invalid heartbeat: %w", err)
	}

	ticker := time.NewTicker(cmp.Or(b.Interval, DefaultHeartbeatInterval))
	defer ticker.Stop()

	for {
		if err := b.send(w); err != nil {
			slog.Error("error writing heartbeat", "err", err, "truck_id", b.TruckID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) send(w io.Writer) error {
	hb := b.Heartbeat()
	data, err := hb.MarshalText()
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return err
	}
	slog.Debug("heartbeat sent", "truck_id", hb.TruckID, "lat", hb.Lat, "lon", hb.Lon)
	return nil
}
