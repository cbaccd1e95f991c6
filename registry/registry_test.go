package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestRegistry_UpsertAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Upsert(Vendor{ID: "T1", Lat: 31.95, Lon: 35.94, TCPPort: 9000, LastSeen: epoch, Addr: "10.0.0.5"}))

	v, ok := r.Lookup("T1")
	require.True(t, ok)
	assert.Equal(t, 31.95, v.Lat)
	assert.Equal(t, 35.94, v.Lon)
	assert.Equal(t, 9000, v.TCPPort)
	assert.Equal(t, "10.0.0.5", v.Addr)

	_, ok = r.Lookup("t1")
	assert.False(t, ok, "ids are case-sensitive")
}

func TestRegistry_UpsertOverwritesEveryField(t *testing.T) {
	r := New()
	first := Vendor{ID: "T1", Lat: 1, Lon: 2, TCPPort: 9000, LastSeen: epoch, Addr: "10.0.0.5"}
	second := Vendor{ID: "T1", Lat: 3, Lon: 4, TCPPort: 9100, LastSeen: epoch.Add(time.Second), Addr: "10.0.0.6"}
	require.NoError(t, r.Upsert(first))
	require.NoError(t, r.Upsert(second))

	v, ok := r.Lookup("T1")
	require.True(t, ok)
	assert.Equal(t, second, v)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UpsertIsIdempotent(t *testing.T) {
	r := New()
	v := Vendor{ID: "T1", TCPPort: 9000, LastSeen: epoch}
	for range 5 {
		require.NoError(t, r.Upsert(v))
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UpsertRejectsInvalidVendors(t *testing.T) {
	tests := map[string]Vendor{
		"empty id":      {TCPPort: 9000},
		"zero port":     {ID: "T1"},
		"negative port": {ID: "T1", TCPPort: -1},
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			r := New()
			assert.ErrorIs(t, r.Upsert(v), ErrInvalidVendor)
			assert.Zero(t, r.Len())
		})
	}
}

func TestRegistry_Capacity(t *testing.T) {
	r := New(WithCapacity(2))
	require.NoError(t, r.Upsert(Vendor{ID: "T1", TCPPort: 1, LastSeen: epoch}))
	require.NoError(t, r.Upsert(Vendor{ID: "T2", TCPPort: 1, LastSeen: epoch}))

	err := r.Upsert(Vendor{ID: "T3", TCPPort: 1, LastSeen: epoch})
	assert.ErrorIs(t, err, ErrRegistryFull)
	_, ok := r.Lookup("T3")
	assert.False(t, ok)

	// Known vendors can still be refreshed.
	require.NoError(t, r.Upsert(Vendor{ID: "T2", Lat: 5, TCPPort: 2, LastSeen: epoch}))
	v, _ := r.Lookup("T2")
	assert.Equal(t, 2, v.TCPPort)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_PruneStale(t *testing.T) {
	r := New()
	maxAge := 10 * time.Second
	now := epoch.Add(time.Minute)
	require.NoError(t, r.Upsert(Vendor{ID: "fresh", TCPPort: 1, LastSeen: now.Add(-time.Second)}))
	require.NoError(t, r.Upsert(Vendor{ID: "edge", TCPPort: 1, LastSeen: now.Add(-maxAge)}))
	require.NoError(t, r.Upsert(Vendor{ID: "stale", TCPPort: 1, LastSeen: now.Add(-maxAge - time.Millisecond)}))
	require.NoError(t, r.Upsert(Vendor{ID: "ancient", TCPPort: 1, LastSeen: epoch}))

	assert.Equal(t, 2, r.PruneStale(now, maxAge))

	snapshot := r.Snapshot()
	ids := make([]string, 0, len(snapshot))
	for _, v := range snapshot {
		assert.LessOrEqual(t, v.Age(now), maxAge)
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"fresh", "edge"}, ids)
	assert.Zero(t, r.PruneStale(now, maxAge))
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := New()
	assert.Empty(t, r.Snapshot())

	require.NoError(t, r.Upsert(Vendor{ID: "T1", Lat: 1, TCPPort: 1, LastSeen: epoch}))
	snapshot := r.Snapshot()
	require.Len(t, snapshot, 1)
	snapshot[0].Lat = 99

	v, _ := r.Lookup("T1")
	assert.Equal(t, 1.0, v.Lat)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				id := fmt.Sprintf("T%d", i%20)
				_ = r.Upsert(Vendor{ID: id, Lat: float64(w), Lon: float64(w), TCPPort: 1000 + w, LastSeen: epoch.Add(time.Duration(i) * time.Millisecond)})
				r.Lookup(id)
				if i%50 == 0 {
					r.PruneStale(epoch, time.Hour)
					r.Snapshot()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, r.Len())
	for _, v := range r.Snapshot() {
		// Every field must come from the same writer.
		assert.Equal(t, v.Lat, v.Lon)
		assert.Equal(t, 1000+int(v.Lat), v.TCPPort)
	}
}
