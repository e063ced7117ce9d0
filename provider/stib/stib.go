// Package stib adapts the STIB/MIVB open data API, the Brussels
// operator. It is the richest adapter: JSON waiting times, raw vehicle
// telemetry reconstructed into map positions, service messages, and
// the full set of static-feed queries.
package stib

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/schedule"
	"github.com/openmobility/transithub/vehicle"
)

const (
	waitingTimesTTL = 30 * time.Second
	vehiclesTTL     = 30 * time.Second
	messagesTTL     = 5 * time.Minute
)

type Provider struct {
	*provider.Base

	TimeNow func() time.Time
}

func New(logger *zap.Logger, cfg provider.Config, feeds *gtfs.Manager) *Provider {
	return &Provider{
		Base:    provider.NewBase(logger, cfg, feeds),
		TimeNow: time.Now,
	}
}

// The open data portal wraps every dataset in records whose fields are
// partly JSON-in-a-string. Each decode below unwraps one layer.
type apiResponse struct {
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	Fields apiFields `json:"fields"`
}

type apiFields struct {
	PointID          string `json:"pointid"`
	LineID           string `json:"lineid"`
	PassingTimes     string `json:"passingtimes"`
	VehiclePositions string `json:"vehiclepositions"`
	Content          string `json:"content"`
	Lines            string `json:"lines"`
	Points           string `json:"points"`
	Priority         int    `json:"priority"`
	Type             string `json:"type"`
}

type passingTime struct {
	LineID              string            `json:"lineId"`
	Destination         map[string]string `json:"destination"`
	Message             map[string]string `json:"message"`
	ExpectedArrivalTime string            `json:"expectedArrivalTime"`
}

type vehiclePosition struct {
	DirectionID       string  `json:"directionId"`
	PointID           string  `json:"pointId"`
	DistanceFromPoint float64 `json:"distanceFromPoint"`
}

type messageContent struct {
	Text []map[string]string `json:"text"`
}

type messageRef struct {
	ID string `json:"id"`
}

func (p *Provider) datasetURL(dataset string, args ...interface{}) string {
	url := fmt.Sprintf("%s/%s", p.Cfg.APIURL, dataset)
	if len(args) > 0 {
		url += fmt.Sprintf(args[0].(string), args[1:]...)
	}
	return url
}

func (p *Provider) headers() map[string]string {
	if p.Cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Apikey " + p.Cfg.APIKey}
}

// WaitingTimes returns upcoming passages at a stop, grouped by line
// and destination. Without a stop id every monitored stop is fetched.
// Stop names and coordinates come from the static feed; when the API
// payload lacks coordinates the fallback is marked with source "gtfs".
func (p *Provider) WaitingTimes(ctx context.Context, stopID, lang string) (*provider.WaitingTimesResult, error) {
	stops := []string{stopID}
	if stopID == "" {
		if len(p.Cfg.StopIDs) == 0 {
			return nil, errors.Wrap(provider.ErrBadRequest, "no stop_id given and no monitored stops configured")
		}
		stops = p.Cfg.StopIDs
	}

	lang, langMeta := p.SelectLanguage(lang)

	// The static feed is optional here. Passages come from the API;
	// the feed only enriches names and coordinates.
	feed, feedErr := p.Feed()
	if feedErr != nil {
		p.Logger.Warn("static feed unavailable, serving API data only", zap.Error(feedErr))
	}

	result := &provider.WaitingTimesResult{StopsData: map[string]*provider.StopData{}}
	anyCached := false
	for _, id := range stops {
		data, cached, err := p.stopWaitingTimes(ctx, feed, id, lang)
		if err != nil {
			return nil, errors.Wrapf(err, "stop %s", id)
		}
		anyCached = anyCached || cached
		result.StopsData[id] = data
	}

	if anyCached || langMeta != nil {
		result.Meta = &model.ResponseMeta{Cached: anyCached, Language: langMeta}
	}
	return result, nil
}

func (p *Provider) stopWaitingTimes(ctx context.Context, feed *gtfs.Feed, stopID, lang string) (*provider.StopData, bool, error) {
	var resp apiResponse
	cached, err := p.FetchJSON(ctx,
		"waiting_times_"+stopID,
		p.datasetURL("waiting-time-rt-production", "?pointid=%s", stopID),
		p.headers(), waitingTimesTTL, &resp)
	if err != nil {
		return nil, false, err
	}

	now := p.TimeNow()
	var loc *time.Location
	if feed != nil {
		loc, _ = feed.Location()
	}

	waiting := []*model.WaitingTime{}
	for _, rec := range resp.Records {
		var passages []passingTime
		if err := json.Unmarshal([]byte(rec.Fields.PassingTimes), &passages); err != nil {
			p.Logger.Warn("malformed passing times",
				zap.String("stop", stopID), zap.Error(err))
			continue
		}
		for _, pt := range passages {
			wt := p.normalizePassage(rec.Fields.LineID, stopID, lang, pt, now, loc)
			if wt != nil {
				waiting = append(waiting, wt)
			}
		}
	}

	data := &provider.StopData{
		Lines: provider.GroupWaitingTimes(waiting, nil),
	}
	p.enrichStop(feed, stopID, lang, data)
	if cached {
		if data.Meta == nil {
			data.Meta = &model.ResponseMeta{}
		}
		data.Meta.Cached = true
	}
	return data, cached, nil
}

func (p *Provider) normalizePassage(lineID, stopID, lang string, pt passingTime, now time.Time, loc *time.Location) *model.WaitingTime {
	if pt.LineID != "" {
		lineID = pt.LineID
	}

	wt := &model.WaitingTime{
		Provider:   "stib",
		StopID:     stopID,
		RouteID:    lineID,
		Headsign:   localized(pt.Destination, lang),
		IsRealtime: true,
	}
	if msg := localized(pt.Message, lang); msg != "" {
		wt.Message = msg
	}

	arrival, err := time.Parse(time.RFC3339, pt.ExpectedArrivalTime)
	if err != nil {
		// A passage without a usable time still carries its message.
		if wt.Message == "" {
			return nil
		}
		return wt
	}

	clock, minutes := provider.ClockAndMinutes(arrival, now, loc)
	if minutes < -2 {
		return nil
	}
	wt.RealtimeTime = clock
	wt.RealtimeMinutes = fmt.Sprintf("%d'", minutes)
	wt.MinutesUntil = minutes
	return wt
}

// enrichStop fills name, translations and coordinates from the static
// feed. Coordinates sourced this way are flagged, the upstream API
// publishes passages only.
func (p *Provider) enrichStop(feed *gtfs.Feed, stopID, lang string, data *provider.StopData) {
	if feed == nil {
		data.Name = stopID
		return
	}
	stop, ok := feed.Stop(stopID)
	if !ok {
		data.Name = stopID
		return
	}

	name, _ := gtfs.SelectStopName(stop, lang, p.Cfg.AvailableLanguages)
	data.Name = name
	data.Translations = stop.Translations
	if stop.HasCoords {
		data.Coordinates = &schedule.Coordinates{Lat: stop.Lat, Lon: stop.Lon}
		meta := data.Meta
		if meta == nil {
			meta = &model.ResponseMeta{}
			data.Meta = meta
		}
		meta.Source = "gtfs"
	}
}

func localized(texts map[string]string, fallback string) string {
	if len(texts) == 0 {
		return ""
	}
	if v, ok := texts[fallback]; ok && v != "" {
		return v
	}
	for _, v := range texts {
		if v != "" {
			return v
		}
	}
	return ""
}

// Vehicles reconstructs map positions from the operator's raw
// telemetry. The static feed is required: reconstruction projects the
// telemetry onto the route's shape.
func (p *Provider) Vehicles(ctx context.Context, line, direction string) (*provider.VehiclesResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}

	lines := map[string]bool{}
	if line != "" {
		lines[line] = true
	} else {
		for _, l := range p.Cfg.MonitoredLines {
			lines[l] = true
		}
	}

	var resp apiResponse
	cached, err := p.FetchJSON(ctx,
		"vehicle_positions",
		p.datasetURL("vehicle-position-rt-production"),
		p.headers(), vehiclesTTL, &resp)
	if err != nil {
		return nil, err
	}

	now := p.TimeNow()
	telemetry := []*model.VehicleTelemetry{}
	for _, rec := range resp.Records {
		lineID := rec.Fields.LineID
		if len(lines) > 0 && !lines[lineID] {
			continue
		}
		var positions []vehiclePosition
		if err := json.Unmarshal([]byte(rec.Fields.VehiclePositions), &positions); err != nil {
			p.Logger.Warn("malformed vehicle positions",
				zap.String("line", lineID), zap.Error(err))
			continue
		}
		for _, vp := range positions {
			if direction != "" && vp.DirectionID != direction &&
				vehicle.StripSuffix(vp.DirectionID) != direction {
				continue
			}
			telemetry = append(telemetry, &model.VehicleTelemetry{
				Provider:        "stib",
				LineID:          lineID,
				DirectionKey:    vp.DirectionID,
				NextStopID:      vp.PointID,
				DistanceToNextM: vp.DistanceFromPoint,
				Timestamp:       now,
			})
		}
	}

	result := &provider.VehiclesResult{
		Vehicles: p.Reconstructor.Positions(feed, telemetry),
	}
	if cached {
		result.Meta = &model.ResponseMeta{Cached: true}
	}
	return result, nil
}

// ServiceMessages returns current disruption notices. Messages are
// flagged monitored when they touch a monitored line or stop.
func (p *Provider) ServiceMessages(ctx context.Context, lang string) (*provider.MessagesResult, error) {
	lang, langMeta := p.SelectLanguage(lang)

	var resp apiResponse
	cached, err := p.FetchJSON(ctx,
		"messages",
		p.datasetURL("travellers-information-rt-production"),
		p.headers(), messagesTTL, &resp)
	if err != nil {
		return nil, err
	}

	messages := []*model.ServiceMessage{}
	for _, rec := range resp.Records {
		msg := p.normalizeMessage(rec.Fields, lang)
		if msg != nil {
			messages = append(messages, msg)
		}
	}

	result := &provider.MessagesResult{Messages: messages}
	if cached || langMeta != nil {
		result.Meta = &model.ResponseMeta{Cached: cached, Language: langMeta}
	}
	return result, nil
}

func (p *Provider) normalizeMessage(fields apiFields, lang string) *model.ServiceMessage {
	var contents []messageContent
	if err := json.Unmarshal([]byte(fields.Content), &contents); err != nil {
		p.Logger.Warn("malformed message content", zap.Error(err))
		return nil
	}

	text := ""
	for _, c := range contents {
		for _, t := range c.Text {
			if v := localized(t, lang); v != "" {
				text = v
				break
			}
		}
		if text != "" {
			break
		}
	}
	if text == "" {
		return nil
	}

	msg := &model.ServiceMessage{
		Text:     text,
		Lines:    refIDs(fields.Lines),
		Points:   refIDs(fields.Points),
		Priority: fields.Priority,
		Type:     fields.Type,
	}
	msg.Stops = p.StopNames(msg.Points)

	for _, l := range msg.Lines {
		if p.IsMonitoredLine(l) {
			msg.IsMonitored = true
		}
	}
	for _, pt := range msg.Points {
		if p.IsMonitoredStop(pt) {
			msg.IsMonitored = true
		}
	}
	return msg
}

func refIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var refs []messageRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

// Route returns every direction variant of a line with its ordered
// stops and shape, derived from the static feed.
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
