package tracker

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/benjaminclauss/truckping/geo"
	"github.com/benjaminclauss/truckping/registry"
)

const (
	// DefaultDropAge is how long a truck stays listed after its last heartbeat.
	DefaultDropAge = 10 * time.Second
	// DefaultNearbyKm is the distance under which a truck is flagged as nearby.
	DefaultNearbyKm = 0.5
	// DefaultQueryInterval is the cadence of the query loop.
	DefaultQueryInterval = time.Second
)

// A Row is one truck in a query result.
type Row struct {
	ID         string
	DistanceKm float64
	// Age is the time since the truck's last heartbeat.
	Age     time.Duration
	TCPPort int
	Addr    string
	Nearby  bool

	Lat, Lon float64
	LastSeen time.Time
}

// DistanceFunc returns the distance between two coordinates in kilometres.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

type VendorSource interface {
	PruneStale(now time.Time, maxAge time.Duration) int
	Snapshot() []registry.Vendor
}

// Locator answers "which trucks are near me" from a fixed reference point.
type Locator struct {
	Source VendorSource
	// Now defaults to time.Now.
	Now func() time.Time
	// Distance defaults to geo.HaversineKm.
	Distance DistanceFunc

	Lat, Lon float64
	NearbyKm float64
	MaxAge   time.Duration
}

func NewLocator(source VendorSource, lat, lon float64) *Locator {
	return &Locator{
		Source:   source,
		Now:      time.Now,
		Distance: geo.HaversineKm,
		Lat:      lat,
		Lon:      lon,
		NearbyKm: DefaultNearbyKm,
		MaxAge:   DefaultDropAge,
	}
}

// Query drops stale trucks and returns the rest sorted by distance, nearest first. Trucks at equal distance keep
// their snapshot order. The result is never nil.
func (l *Locator) Query() []Row {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	distance := l.Distance
	if distance == nil {
		distance = geo.HaversineKm
	}

	l.Source.PruneStale(now, l.MaxAge)
	vendors := l.Source.Snapshot()

	rows := make([]Row, 0, len(vendors))
	for _, v := range vendors {
		d := distance(l.Lat, l.Lon, v.Lat, v.Lon)
		rows = append(rows, Row{
			ID:         v.ID,
			DistanceKm: d,
			Age:        v.Age(now),
			TCPPort:    v.TCPPort,
			Addr:       v.Addr,
			Nearby:     d < l.NearbyKm,
			Lat:        v.Lat,
			Lon:        v.Lon,
			LastSeen:   v.LastSeen,
		})
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Compare(a.DistanceKm, b.DistanceKm)
	})
	return rows
}

// Run calls emit with a fresh query result immediately and then once per interval, until ctx is done.
func (l *Locator) Run(ctx context.Context, interval time.Duration, emit func([]Row)) error {
	ticker := time.NewTicker(cmp.Or(interval, DefaultQueryInterval))
	defer ticker.Stop()

	for {
		emit(l.Query())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
