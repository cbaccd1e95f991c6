package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: truckping <mode> [flags]

modes:
  list     print the trucks heard on the multicast group, nearest first
  serve    like list, and publish the trucks over HTTP
  ping     ask a truck to come over
  truck    run a truck: broadcast heartbeats and answer pings
  version  print build information

Run "truckping <mode> -h" for the flags of a mode.
`

var errUsage = errors.New("usage error")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout)
	stop()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		slog.Error("truckping failed", "mode", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, args []string, stdout io.Writer) error {
	switch mode {
	case "list":
		return runList(ctx, args, stdout)
	case "serve":
		return runServe(ctx, args, stdout)
	case "ping":
		return runPing(ctx, args, stdout)
	case "truck":
		return runTruck(ctx, args)
	case "version":
		_, err := fmt.Fprintf(stdout, "truckping %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return err
	case "-h", "-help", "--help", "help":
		_, err := fmt.Fprint(stdout, usage)
		return err
	default:
		return fmt.Errorf("%w: unknown mode %q\n\n%s", errUsage, mode, usage)
	}
}

// options are the flags shared by every mode that talks to the multicast group.
type options struct {
	group    string
	iface    string
	logLevel slog.Level
}

func newFlagSet(mode string) (*flag.FlagSet, *options) {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	o := &options{}
	fs.StringVar(&o.group, "group", DefaultGroup, "multicast group heartbeats are sent to")
	fs.StringVar(&o.iface, "iface", "", "network interface to join the group on; \"auto\" picks the default-route interface (default: system choice)")
	fs.TextVar(&o.logLevel, "log-level", slog.LevelInfo, "log level: debug, info, warn or error")
	return fs, o
}

// parse parses args and installs the logger selected by -log-level.
func (o *options) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments: %v", errUsage, fs.Args())
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.logLevel})))
	return nil
}
