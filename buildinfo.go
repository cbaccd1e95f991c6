package main

import "github.com/benjaminclauss/truckping/feed"

// Set with -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildTime=...".
var (
	Version   = "dev" // default fallback
	Commit    = "none"
	BuildTime = "unknown"
)

func buildInfo() feed.BuildInfo {
	return feed.BuildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime}
}
