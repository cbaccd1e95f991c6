package protocol

import "fmt"

// A Ping is sent by a user, over TCP, to ask a truck to come to them.
type Ping struct {
	TruckID string
	UserID  string
	// Addr is the free-text delivery address.
	Addr string
	Note string
}

func (p *Ping) Header() string { return PingHeader }

// MarshalText encodes the ping without the trailing newline. Addr and Note are always quoted, even when empty.
func (p *Ping) MarshalText() ([]byte, error) {
	if err := validateID("truck_id", p.TruckID); err != nil {
		return nil, err
	}
	if err := validateID("user_id", p.UserID); err != nil {
		return nil, err
	}
	if err := validateText("addr", p.Addr, MaxAddrLength); err != nil {
		return nil, err
	}
	if err := validateText("note", p.Note, MaxNoteLength); err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, `%s truck_id=%s user_id=%s addr="%s" note="%s"`,
		PingHeader, p.TruckID, p.UserID, p.Addr, p.Note), nil
}

// ParsePing parses a PING line. Both truck_id and user_id are required.
func ParsePing(line string) (*Ping, error) {
	rest, err := body(line, PingHeader)
	if err != nil {
		return nil, err
	}
	fields := scanFields(rest)

	p := &Ping{
		TruckID: fields["truck_id"].id(),
		UserID:  fields["user_id"].id(),
		Addr:    fields["addr"].text(MaxAddrLength),
		Note:    fields["note"].text(MaxNoteLength),
	}
	if p.TruckID == "" {
		return nil, ErrMissingTruckID
	}
	if p.UserID == "" {
		return nil, ErrMissingUserID
	}
	return p, nil
}
