package tracker

import (
	"fmt"
	"io"
	"time"
)

const tableHeader = "truck_id        distance_km last_seen_s tcp_port ip"

// WriteTable renders rows as a fixed-width console table. Every nearby truck is followed by an alert line that
// rings the terminal bell.
func WriteTable(w io.Writer, rows []Row) error {
	if _, err := fmt.Fprintf(w, "\n%s\n", tableHeader); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := fmt.Fprintf(w, "%-14s %10.3f %11d %8d %s\n", r.ID, r.DistanceKm, int64(r.Age/time.Second), r.TCPPort, r.Addr)
		if err != nil {
			return err
		}
		if r.Nearby {
			if _, err := fmt.Fprintf(w, "\a>> %s is nearby!\n", r.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
