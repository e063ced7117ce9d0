// Package sncb adapts the Belgian national rail operator. There is no
// bespoke JSON API; everything realtime comes from the national
// GTFS-Realtime feed overlaid on the static timetable.
package sncb

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/gtfsrt"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/schedule"
)

const realtimeTTL = 30 * time.Second

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

func (p *Provider) headers() map[string]string {
	if p.Cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": p.Cfg.APIKey}
}

// realtime fetches and decodes the national GTFS-RT feed. A decode
// failure on fresh data is an upstream error; the caller decides how
// hard to fail.
func (p *Provider) realtime(ctx context.Context) (*gtfsrt.Feed, bool, error) {
	data, cached, err := p.FetchRaw(ctx, "gtfs_rt", p.Cfg.APIURL, p.headers(), realtimeTTL)
	if err != nil {
		return nil, false, err
	}
	feed, err := gtfsrt.Decode(data)
	if err != nil {
		return nil, false, err
	}
	return feed, cached, nil
}

// WaitingTimes overlays realtime delays and cancellations on the
// scheduled departures at a stop. A realtime outage degrades to
// schedule-only data with a warning instead of failing.
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
	rt, cached, rtErr := p.realtime(ctx)
	if rtErr != nil {
		p.Logger.Warn("realtime feed unavailable", zap.Error(rtErr))
		meta.Warning = "realtime data unavailable, times are scheduled only"
	} else {
		meta.Cached = cached
		waiting = schedule.MergeDelays(waiting, p.delaysAt(rt, stopID), rt.CancelledTrips)
	}

	for _, wt := range waiting {
		wt.Provider = "sncb"
		if wt.Headsign == "" {
			wt.Headsign = p.headsigns.Resolve(feed, wt.TripID)
		}
	}

	stop, _ := feed.Stop(stopID)
	data := &provider.StopData{
		Lines: provider.GroupWaitingTimes(waiting, nil),
	}
	if stop != nil {
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

// delaysAt extracts per-trip delays relevant to a stop. An update for
// the exact stop wins; otherwise the trip-level delay of the last
// update before the stop applies.
func (p *Provider) delaysAt(rt *gtfsrt.Feed, stopID string) map[string]time.Duration {
	delays := map[string]time.Duration{}
	for _, u := range rt.Updates {
		if u.Skipped {
			continue
		}
		if u.StopID == stopID {
			delays[u.TripID] = u.Delay
			continue
		}
		if _, ok := delays[u.TripID]; !ok && u.Delay != 0 {
			delays[u.TripID] = u.Delay
		}
	}
	return delays
}

// Vehicles returns train positions as reported by the realtime feed.
// Rail vehicles carry GPS positions directly, no reconstruction
// involved.
func (p *Provider) Vehicles(ctx context.Context, line, direction string) (*provider.VehiclesResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}

	rt, cached, err := p.realtime(ctx)
	if err != nil {
		return nil, err
	}

	vehicles := []*model.VehiclePosition{}
	for _, v := range rt.Vehicles {
		if !v.HasPosition {
			continue
		}
		if line != "" && v.RouteID != line {
			continue
		}
		if direction != "" && v.DirectionID >= 0 && direction != directionKey(v.DirectionID) {
			continue
		}

		pos := &model.VehiclePosition{
			Line:                 v.RouteID,
			Direction:            p.headsigns.Resolve(feed, v.TripID),
			IsValid:              true,
			InterpolatedPosition: []float64{v.Lat, v.Lon},
			Bearing:              v.Bearing,
		}
		if pos.Direction == "" && v.DirectionID >= 0 {
			pos.Direction = directionKey(v.DirectionID)
		}
		vehicles = append(vehicles, pos)
	}

	result := &provider.VehiclesResult{Vehicles: vehicles}
	if cached {
		result.Meta = &model.ResponseMeta{Cached: true}
	}
	return result, nil
}

func directionKey(id int8) string {
	if id == 1 {
		return "1"
	}
	return "0"
}

// ServiceMessages returns active alerts from the realtime feed,
// flagged when they touch a monitored line or stop.
func (p *Provider) ServiceMessages(ctx context.Context, lang string) (*provider.MessagesResult, error) {
	rt, cached, err := p.realtime(ctx)
	if err != nil {
		return nil, err
	}

	lang, langMeta := p.SelectLanguage(lang)

	messages := []*model.ServiceMessage{}
	for _, alert := range rt.Alerts {
		text := gtfsrt.Text(alert.Header, lang)
		if desc := gtfsrt.Text(alert.Description, lang); desc != "" {
			if text != "" {
				text += ": "
			}
			text += desc
		}
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
		if !alert.Start.IsZero() {
			start := alert.Start
			msg.PeriodStart = &start
		}
		if !alert.End.IsZero() {
			end := alert.End
			msg.PeriodEnd = &end
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
