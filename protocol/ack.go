package protocol

import "fmt"

// An Ack is a truck's reply to a Ping.
type Ack struct {
	TruckID string
	// ETAMinutes is the truck's estimate of how long until it arrives.
	ETAMinutes int
	// Queued is the number of orders ahead of, and including, this one.
	Queued int
}

func (a *Ack) Header() string { return AckHeader }

// MarshalText encodes the ack without the trailing newline.
func (a *Ack) MarshalText() ([]byte, error) {
	if err := validateID("truck_id", a.TruckID); err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "%s truck_id=%s eta_min=%d queued=%d", AckHeader, a.TruckID, a.ETAMinutes, a.Queued), nil
}

// ParseAck parses an ACK line. Only truck_id is required.
func ParseAck(line string) (*Ack, error) {
	rest, err := body(line, AckHeader)
	if err != nil {
		return nil, err
	}
	fields := scanFields(rest)

	a := &Ack{
		TruckID:    fields["truck_id"].id(),
		ETAMinutes: int(scanInt(fields["eta_min"].value)),
		Queued:     int(scanInt(fields["queued"].value)),
	}
	if a.TruckID == "" {
		return nil, ErrMissingTruckID
	}
	return a, nil
}
