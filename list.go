package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benjaminclauss/truckping/registry"
	"github.com/benjaminclauss/truckping/report"
	"github.com/benjaminclauss/truckping/tracker"
)

// Default user position, used when -user-lat and -user-lon are not given.
const (
	DefaultUserLat = 31.956
	DefaultUserLon = 35.945
)

type listOptions struct {
	*options
	userLat, userLon float64
	nearKm           float64
	dropAge          time.Duration
	interval         time.Duration
	capacity         int
	xlsx             string
}

func newListFlags(mode string) (*flag.FlagSet, *listOptions) {
	fs, common := newFlagSet(mode)
	o := &listOptions{options: common}
	fs.Float64Var(&o.userLat, "user-lat", DefaultUserLat, "your latitude in degrees")
	fs.Float64Var(&o.userLon, "user-lon", DefaultUserLon, "your longitude in degrees")
	fs.Float64Var(&o.nearKm, "near", tracker.DefaultNearbyKm, "alert for trucks closer than this many kilometres")
	fs.DurationVar(&o.dropAge, "drop-age", tracker.DefaultDropAge, "forget trucks not heard from for this long")
	fs.DurationVar(&o.interval, "interval", tracker.DefaultQueryInterval, "how often to refresh the list")
	fs.IntVar(&o.capacity, "max-trucks", 0, "maximum number of trucks tracked at once (0: no limit)")
	fs.StringVar(&o.xlsx, "xlsx", "", "also write each refresh to this spreadsheet")
	return fs, o
}

func runList(ctx context.Context, args []string, stdout io.Writer) error {
	fs, o := newListFlags("list")
	if err := o.parse(fs, args); err != nil {
		return err
	}
	return track(ctx, o, o.printer(stdout))
}

// printer renders each query result as a table on w, and to the -xlsx spreadsheet if one was given.
func (o *listOptions) printer(w io.Writer) func([]tracker.Row) {
	return func(rows []tracker.Row) {
		LogWriteError(tracker.WriteTable(w, rows))
		if o.xlsx == "" {
			return
		}
		if err := report.WriteXLSX(o.xlsx, rows, time.Now()); err != nil {
			slog.Error("error writing spreadsheet", "err", err, "path", o.xlsx)
		}
	}
}

// track joins the group, records heartbeats and passes a query result to emit every interval, until ctx is done or
// one of tasks fails. Each task runs alongside the tracker with the same context.
func track(ctx context.Context, o *listOptions, emit func([]tracker.Row), tasks ...func(context.Context) error) error {
	conn, err := listenGroup(o.group, o.iface)
	if err != nil {
		return err
	}

	vendors := registry.New(registry.WithCapacity(o.capacity))
	ingester := tracker.NewIngester(vendors)
	locator := tracker.NewLocator(vendors, o.userLat, o.userLon)
	locator.NearbyKm = o.nearKm
	locator.MaxAge = o.dropAge

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingester.Listen(ctx, conn) })
	g.Go(func() error { return locator.Run(ctx, o.interval, emit) })
	for _, task := range tasks {
		g.Go(func() error { return task(ctx) })
	}
	err = g.Wait()

	accepted, rejected := ingester.Stats()
	slog.Info("stopped tracking", "heartbeats", accepted, "rejected", rejected, "trucks", vendors.Len())
	return err
}
