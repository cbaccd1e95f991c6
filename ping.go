package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benjaminclauss/truckping/pinger"
	"github.com/benjaminclauss/truckping/protocol"
	"github.com/benjaminclauss/truckping/registry"
	"github.com/benjaminclauss/truckping/tracker"
)

const DefaultWarmup = time.Second

var errBadAck = errors.New("truck sent a malformed ack")

func runPing(ctx context.Context, args []string, stdout io.Writer) error {
	fs, o := newFlagSet("ping")
	p := protocol.Ping{}
	fs.StringVar(&p.TruckID, "truck", "", "ID of the truck to ping (required)")
	fs.StringVar(&p.UserID, "user", "", "your user ID (required)")
	fs.StringVar(&p.Addr, "addr", "", "where the truck should come")
	fs.StringVar(&p.Note, "note", "", "a note for the truck")
	warmup := fs.Duration("warmup", DefaultWarmup, "how long to listen for heartbeats before pinging")
	timeout := fs.Duration("timeout", pinger.DefaultTimeout, "timeout for each network step of the ping")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	if p.TruckID == "" || p.UserID == "" {
		return fmt.Errorf("%w: -truck and -user are required", errUsage)
	}

	conn, err := listenGroup(o.group, o.iface)
	if err != nil {
		return err
	}
	vendors := registry.New()
	ingester := tracker.NewIngester(vendors)

	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return ingester.Listen(ctx, conn) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	// The truck can only be reached once one of its heartbeats has arrived.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(*warmup):
	}

	client := pinger.NewClient(vendors)
	client.ConnectTimeout = *timeout
	client.WriteTimeout = *timeout
	client.ReadTimeout = *timeout
	res, err := client.Ping(p)
	if err != nil {
		return err
	}
	return printAck(stdout, res)
}

// printAck reports the outcome of a completed exchange. A malformed ack is printed and returned as errBadAck.
func printAck(w io.Writer, res *pinger.Result) error {
	if res.Malformed {
		if _, err := fmt.Fprintf(w, "bad ACK: %s\n", res.Raw); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", errBadAck, res.ParseErr)
	}
	_, err := fmt.Fprintf(w, "ACK from %s: eta=%d min queued=%d\n", res.Ack.TruckID, res.Ack.ETAMinutes, res.Ack.Queued)
	return err
}
