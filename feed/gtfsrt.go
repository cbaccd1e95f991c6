package feed

import (
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/benjaminclauss/truckping/tracker"
)

const gtfsRealtimeVersion = "2.0"

// VehiclePositions converts a query result into a full-dataset GTFS-realtime feed with one vehicle per truck.
func VehiclePositions(rows []tracker.Row, at time.Time) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(unix(at)),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(rows)),
	}
	for _, r := range rows {
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id: proto.String(r.ID),
			Vehicle: &gtfs.VehiclePosition{
				Vehicle: &gtfs.VehicleDescriptor{
					Id:    proto.String(r.ID),
					Label: proto.String(r.ID),
				},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(r.Lat)),
					Longitude: proto.Float32(float32(r.Lon)),
				},
				Timestamp: proto.Uint64(unix(r.LastSeen)),
			},
		})
	}
	return msg
}

func unix(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
