package gtfsrt

import (
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Decoded GTFS-Realtime feed content, normalized for the adapters.
// Vendor extension fields (BKK ships extra per-entity data) survive as
// raw bytes in VendorData; clients that know the extension schema can
// decode them, everyone else passes them through.

type StopTimeUpdate struct {
	TripID       string
	RouteID      string
	StopID       string
	StopSequence uint32
	ArrivalSet   bool
	Arrival      time.Time
	ArrivalDelay time.Duration
	DepartureSet bool
	Departure    time.Time
	Delay        time.Duration
	Skipped      bool
}

type Vehicle struct {
	TripID         string
	RouteID        string
	DirectionID    int8 // -1 when unset
	VehicleID      string
	Label          string
	Lat            float64
	Lon            float64
	Bearing        float64
	HasPosition    bool
	StopID         string
	CurrentStopSeq uint32
	CurrentStatus  string
	Timestamp      time.Time
	VendorData     []byte
}

type AlertText struct {
	Language string
	Text     string
}

type Alert struct {
	Header      []AlertText
	Description []AlertText
	RouteIDs    []string
	StopIDs     []string
	Cause       string
	Effect      string
	Start       time.Time
	End         time.Time
}

type Feed struct {
	Timestamp      time.Time
	Updates        []*StopTimeUpdate
	Vehicles       []*Vehicle
	Alerts         []*Alert
	CancelledTrips map[string]bool
}

// Decode unmarshals a GTFS-Realtime FeedMessage. Only FULL_DATASET
// feeds of version 1.0/2.0 are supported.
func Decode(buf []byte) (*Feed, error) {
	msg := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(buf, msg); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := msg.GetHeader()
	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}
	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}

	feed := &Feed{
		Timestamp:      time.Unix(int64(header.GetTimestamp()), 0).UTC(),
		CancelledTrips: map[string]bool{},
	}

	for _, entity := range msg.GetEntity() {
		if tu := entity.GetTripUpdate(); tu != nil {
			processTripUpdate(feed, tu)
		}
		if vp := entity.GetVehicle(); vp != nil {
			feed.Vehicles = append(feed.Vehicles, processVehicle(entity, vp))
		}
		if alert := entity.GetAlert(); alert != nil {
			feed.Alerts = append(feed.Alerts, processAlert(alert))
		}
	}

	return feed, nil
}

func processTripUpdate(feed *Feed, tu *gtfsproto.TripUpdate) {
	trip := tu.GetTrip()
	tripID := trip.GetTripId()
	if tripID == "" {
		// Blank trip ids are allowed for frequency-based trips
		// and (route, start_time, start_date) matching. Not
		// supported.
		return
	}

	switch trip.GetScheduleRelationship() {
	case gtfsproto.TripDescriptor_CANCELED:
		feed.CancelledTrips[tripID] = true
		return
	case gtfsproto.TripDescriptor_SCHEDULED:
	default:
		// ADDED, UNSCHEDULED, DUPLICATED: not supported.
		return
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		update := &StopTimeUpdate{
			TripID:       tripID,
			RouteID:      trip.GetRouteId(),
			StopID:       stu.GetStopId(),
			StopSequence: stu.GetStopSequence(),
			Skipped:      stu.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_SKIPPED,
		}

		if arr := stu.GetArrival(); arr != nil {
			update.ArrivalSet = true
			if arr.GetTime() != 0 {
				update.Arrival = time.Unix(arr.GetTime(), 0).UTC()
			}
			update.ArrivalDelay = time.Duration(arr.GetDelay()) * time.Second
			update.Delay = update.ArrivalDelay
		}
		if dep := stu.GetDeparture(); dep != nil {
			update.DepartureSet = true
			if dep.GetTime() != 0 {
				update.Departure = time.Unix(dep.GetTime(), 0).UTC()
			}
			if !update.ArrivalSet {
				update.Delay = time.Duration(dep.GetDelay()) * time.Second
			}
		}

		feed.Updates = append(feed.Updates, update)
	}
}

func processVehicle(entity *gtfsproto.FeedEntity, vp *gtfsproto.VehiclePosition) *Vehicle {
	trip := vp.GetTrip()

	v := &Vehicle{
		TripID:         trip.GetTripId(),
		RouteID:        trip.GetRouteId(),
		DirectionID:    -1,
		VehicleID:      vp.GetVehicle().GetId(),
		Label:          vp.GetVehicle().GetLabel(),
		StopID:         vp.GetStopId(),
		CurrentStopSeq: vp.GetCurrentStopSequence(),
		CurrentStatus:  vp.GetCurrentStatus().String(),
		Timestamp:      time.Unix(int64(vp.GetTimestamp()), 0).UTC(),
	}

	if trip.DirectionId != nil {
		v.DirectionID = int8(trip.GetDirectionId())
	}

	if pos := vp.GetPosition(); pos != nil {
		v.HasPosition = true
		v.Lat = float64(pos.GetLatitude())
		v.Lon = float64(pos.GetLongitude())
		v.Bearing = float64(pos.GetBearing())
	}

	// Unknown fields on the entity and the vehicle hold vendor
	// extensions. Kept verbatim.
	vendor := append([]byte{}, entity.ProtoReflect().GetUnknown()...)
	vendor = append(vendor, vp.ProtoReflect().GetUnknown()...)
	if len(vendor) > 0 {
		v.VendorData = vendor
	}

	return v
}

func processAlert(alert *gtfsproto.Alert) *Alert {
	a := &Alert{
		Cause:  alert.GetCause().String(),
		Effect: alert.GetEffect().String(),
	}

	for _, tr := range alert.GetHeaderText().GetTranslation() {
		a.Header = append(a.Header, AlertText{
			Language: tr.GetLanguage(),
			Text:     tr.GetText(),
		})
	}
	for _, tr := range alert.GetDescriptionText().GetTranslation() {
		a.Description = append(a.Description, AlertText{
			Language: tr.GetLanguage(),
			Text:     tr.GetText(),
		})
	}

	for _, sel := range alert.GetInformedEntity() {
		if routeID := sel.GetRouteId(); routeID != "" {
			a.RouteIDs = append(a.RouteIDs, routeID)
		}
		if stopID := sel.GetStopId(); stopID != "" {
			a.StopIDs = append(a.StopIDs, stopID)
		}
	}

	if periods := alert.GetActivePeriod(); len(periods) > 0 {
		if start := periods[0].GetStart(); start != 0 {
			a.Start = time.Unix(int64(start), 0).UTC()
		}
		if end := periods[0].GetEnd(); end != 0 {
			a.End = time.Unix(int64(end), 0).UTC()
		}
	}

	return a
}

// Text picks the alert text for a language, falling back to the first
// translation.
func Text(texts []AlertText, lang string) string {
	for _, t := range texts {
		if t.Language == lang {
			return t.Text
		}
	}
	if len(texts) > 0 {
		return texts[0].Text
	}
	return ""
}
