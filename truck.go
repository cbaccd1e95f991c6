package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benjaminclauss/truckping/truck"
)

func runTruck(ctx context.Context, args []string) error {
	fs, o := newFlagSet("truck")
	id := fs.String("id", "", "truck ID (required)")
	lat := fs.Float64("lat", DefaultUserLat, "truck latitude in degrees")
	lon := fs.Float64("lon", DefaultUserLon, "truck longitude in degrees")
	interval := fs.Duration("interval", truck.DefaultHeartbeatInterval, "heartbeat interval")
	port := fs.Int("tcp", 0, "TCP port to answer pings on (0: any free port)")
	minutes := fs.Int("minutes-per-order", truck.DefaultMinutesPerOrder, "minutes each queued order adds to the ETA")
	completeEvery := fs.Duration("complete-every", 0, "complete the oldest order this often (0: never)")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: -id is required", errUsage)
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(*port)))
	if err != nil {
		return err
	}
	conn, err := dialGroup(o.group)
	if err != nil {
		_ = l.Close()
		return err
	}
	defer CloseOrLog(conn)

	server := truck.NewServer(*id)
	server.MinutesPerOrder = *minutes
	broadcaster := &truck.Broadcaster{
		TruckID:  *id,
		TCPPort:  l.Addr().(*net.TCPAddr).Port,
		Position: truck.FixedPosition(*lat, *lon),
		Interval: *interval,
	}
	slog.Info("truck started", "truck_id", *id, "group", o.group, "tcp_port", broadcaster.TCPPort)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(ctx, l) })
	g.Go(func() error { return broadcaster.Run(ctx, conn) })
	if *completeEvery > 0 {
		g.Go(func() error { return completeOrders(ctx, server, *completeEvery) })
	}
	return g.Wait()
}

// completeOrders takes the oldest order off the queue every interval.
func completeOrders(ctx context.Context, s *truck.Server, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if o, ok := s.CompleteNext(); ok {
				slog.Info("order completed", "order", o.ID, "user_id", o.UserID, "waited", time.Since(o.Received))
			}
		}
	}
}
