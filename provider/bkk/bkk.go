// Package bkk adapts BKK, the Budapest operator. Realtime data comes
// from three GTFS-Realtime feeds (vehicle positions, trip updates,
// alerts). BKK ships a vendor extension on vehicle entities; it is
// passed through opaquely as bkk_specific.
package bkk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/gtfsrt"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/schedule"
)

const (
	vehiclesTTL = 15 * time.Second
	updatesTTL  = 30 * time.Second
	alertsTTL   = 5 * time.Minute
)

type Provider struct {
	*provider.Base

	TimeNow   func() time.Time
	headsigns *gtfsrt.HeadsignCache
}

func New(logger *zap.Logger, cfg provider.Config, feeds *gtfs.Manager) (*Provider, error) {
	headsigns, err := gtfsrt.NewHeadsignCache(gtfsrt.DefaultHeadsignCacheSize)
	if err != nil {
		return nil, err
	}
	return &Provider{
		Base:      provider.NewBase(logger, cfg, feeds),
		TimeNow:   time.Now,
		headsigns: headsigns,
	}, nil
}

func (p *Provider) feedURL(name string) string {
	url := fmt.Sprintf("%s/%s.pb", p.Cfg.APIURL, name)
	if p.Cfg.APIKey != "" {
		url += "?key=" + p.Cfg.APIKey
	}
	return url
}

func (p *Provider) fetchRealtime(ctx context.Context, name string, ttl time.Duration) (*gtfsrt.Feed, bool, error) {
	data, cached, err := p.FetchRaw(ctx, "rt_"+name, p.feedURL(name), nil, ttl)
	if err != nil {
		return nil, false, err
	}
	feed, err := gtfsrt.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return feed, cached, nil
}

// Vehicles returns live positions. The vendor extension bytes ride
// along in raw_data as bkk_specific.
func (p *Provider) Vehicles(ctx context.Context, line, direction string) (*provider.VehiclesResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}

	rt, cached, err := p.fetchRealtime(ctx, "VehiclePositions", vehiclesTTL)
	if err != nil {
		return nil, err
	}

	vehicles := []*model.VehiclePosition{}
	for _, v := range rt.Vehicles {
		if !v.HasPosition {
			continue
		}
		routeID := v.RouteID
		if routeID == "" {
			if trip, ok := feed.Trip(v.TripID); ok {
				routeID = trip.RouteID
			}
		}
		if line != "" && routeID != line {
			continue
		}
		if direction != "" && v.DirectionID >= 0 &&
			fmt.Sprintf("%d", v.DirectionID) != direction {
			continue
		}

		pos := &model.VehiclePosition{
			Line:                 routeID,
			Direction:            p.headsigns.Resolve(feed, v.TripID),
			IsValid:              true,
			InterpolatedPosition: []float64{v.Lat, v.Lon},
			Bearing:              v.Bearing,
		}
		if len(v.VendorData) > 0 {
			pos.RawData = map[string]interface{}{
				"bkk_specific": v.VendorData,
			}
		}
		vehicles = append(vehicles, pos)
	}

	result := &provider.VehiclesResult{Vehicles: vehicles}
	if cached {
		result.Meta = &model.ResponseMeta{Cached: true}
	}
	return result, nil
}

// WaitingTimes overlays trip-update delays on the static timetable.
func (p *Provider) WaitingTimes(ctx context.Context, stopID, lang string) (*provider.WaitingTimesResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	if stopID == "" {
		if len(p.Cfg.StopIDs) == 0 {
			return nil, provider.ErrBadRequest
		}
		stopID = p.Cfg.StopIDs[0]
	}

	now := p.TimeNow()
	waiting, err := p.Engine.WaitingTimesFromSchedule(feed, stopID, now, "", 20)
	if err != nil {
		return nil, err
	}

	meta := &model.ResponseMeta{}
	rt, cached, rtErr := p.fetchRealtime(ctx, "TripUpdates", updatesTTL)
	if rtErr != nil {
		p.Logger.Warn("trip updates unavailable", zap.Error(rtErr))
		meta.Warning = "realtime data unavailable, times are scheduled only"
	} else {
		meta.Cached = cached
		delays := map[string]time.Duration{}
		for _, u := range rt.Updates {
			if u.Skipped {
				continue
			}
			if u.StopID == stopID || u.StopID == "" {
				delays[u.TripID] = u.Delay
			}
		}
		waiting = schedule.MergeDelays(waiting, delays, rt.CancelledTrips)
	}

	for _, wt := range waiting {
		wt.Provider = "bkk"
		if wt.Headsign == "" {
			wt.Headsign = p.headsigns.Resolve(feed, wt.TripID)
		}
	}

	data := &provider.StopData{
		Lines: provider.GroupWaitingTimes(waiting, nil),
	}
	if stop, ok := feed.Stop(stopID); ok {
		name, _ := gtfs.SelectStopName(stop, lang, p.Cfg.AvailableLanguages)
		data.Name = name
		data.Translations = stop.Translations
		if stop.HasCoords {
			data.Coordinates = &schedule.Coordinates{Lat: stop.Lat, Lon: stop.Lon}
		}
	}

	return &provider.WaitingTimesResult{
		StopsData: map[string]*provider.StopData{stopID: data},
		Meta:      meta,
	}, nil
}

// ServiceMessages returns active alerts.
func (p *Provider) ServiceMessages(ctx context.Context, lang string) (*provider.MessagesResult, error) {
	rt, cached, err := p.fetchRealtime(ctx, "Alerts", alertsTTL)
	if err != nil {
		return nil, err
	}

	lang, langMeta := p.SelectLanguage(lang)

	messages := []*model.ServiceMessage{}
	for _, alert := range rt.Alerts {
		text := gtfsrt.Text(alert.Header, lang)
		if text == "" {
			continue
		}
		msg := &model.ServiceMessage{
			Text:   text,
			Lines:  alert.RouteIDs,
			Stops:  p.StopNames(alert.StopIDs),
			Points: alert.StopIDs,
			Type:   alert.Effect,
		}
		for _, l := range alert.RouteIDs {
			if p.IsMonitoredLine(l) {
				msg.IsMonitored = true
			}
		}
		for _, s := range alert.StopIDs {
			if p.IsMonitoredStop(s) {
				msg.IsMonitored = true
			}
		}
		messages = append(messages, msg)
	}

	result := &provider.MessagesResult{Messages: messages}
	if cached || langMeta != nil {
		result.Meta = &model.ResponseMeta{Cached: cached, Language: langMeta}
	}
	return result, nil
}

func (p *Provider) Route(ctx context.Context, line string) (*provider.RouteResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return provider.RouteFromFeed(feed, line)
}

func (p *Provider) Colors(ctx context.Context, line string) (*model.RouteColors, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return provider.ColorsFromFeed(feed, line)
}

func (p *Provider) NearestStop(ctx context.Context, lat, lon float64, limit int, maxDistanceKm float64) ([]*schedule.StopDistance, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return p.Engine.NearestStops(feed, lat, lon, limit, maxDistanceKm)
}

func (p *Provider) StopsByName(ctx context.Context, query string, limit int) ([]*schedule.StopSummary, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return p.Engine.StopsByName(feed, query, limit), nil
}
