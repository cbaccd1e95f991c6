package protocol

import (
	"fmt"
	"math"
)

// A Heartbeat is broadcast periodically by every truck on the multicast group.
//
// Heartbeats are unauthenticated and carry no sender address. Receivers use the address the datagram arrived from,
// together with TCPPort, to contact the truck directly.
type Heartbeat struct {
	TruckID string
	Lat     float64
	Lon     float64
	// Timestamp is the sender's clock in Unix seconds. Receivers stamp heartbeats with their own clock.
	Timestamp int64
	TCPPort   int
}

func (h *Heartbeat) Header() string { return HeartbeatHeader }

// MarshalText encodes the heartbeat without the trailing newline. Coordinates are written with six decimal places.
func (h *Heartbeat) MarshalText() ([]byte, error) {
	if err := validateID("truck_id", h.TruckID); err != nil {
		return nil, err
	}
	if !validPort(int64(h.TCPPort)) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTCPPort, h.TCPPort)
	}
	return fmt.Appendf(nil, "%s truck_id=%s lat=%.6f lon=%.6f ts=%d tcp=%d",
		HeartbeatHeader, h.TruckID, h.Lat, h.Lon, h.Timestamp, h.TCPPort), nil
}

// ParseHeartbeat parses a HB line.
//
// A heartbeat is valid if it has a non-empty truck_id and a tcp port between 1 and 65535. All other fields are
// optional and read as zero when missing or malformed.
func ParseHeartbeat(line string) (*Heartbeat, error) {
	rest, err := body(line, HeartbeatHeader)
	if err != nil {
		return nil, err
	}
	fields := scanFields(rest)

	h := &Heartbeat{
		TruckID:   fields["truck_id"].id(),
		Lat:       scanFloat(fields["lat"].value),
		Lon:       scanFloat(fields["lon"].value),
		Timestamp: scanInt(fields["ts"].value),
	}
	if h.TruckID == "" {
		return nil, ErrMissingTruckID
	}
	port := scanInt(fields["tcp"].value)
	if !validPort(port) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTCPPort, port)
	}
	h.TCPPort = int(port)
	return h, nil
}

func validPort(p int64) bool {
	return p > 0 && p <= math.MaxUint16
}
