// Package delijn adapts the De Lijn open data API, the Flemish
// operator. Waiting times come from the halte real-time endpoint,
// disruptions from omleidingen, line colors from the lijnkleuren
// endpoint with GTFS colors as fallback.
package delijn

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/provider"
	"github.com/openmobility/transithub/schedule"
)

const (
	realtimeTTL = 30 * time.Second
	messagesTTL = 5 * time.Minute
	colorsTTL   = 24 * time.Hour

	// Entity 3 is Vlaams-Brabant; stop ids without an explicit
	// "entity-number" prefix default to it.
	defaultEntity = "3"
)

// The API reports direction as HEEN (outbound) or TERUG (return).
const (
	RichtingHeen  = "HEEN"
	RichtingTerug = "TERUG"
)

// DirectionFromRichting maps the API direction to a GTFS direction_id.
func DirectionFromRichting(richting string) int8 {
	if strings.EqualFold(richting, RichtingTerug) {
		return 1
	}
	return 0
}

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

func (p *Provider) headers() map[string]string {
	if p.Cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Ocp-Apim-Subscription-Key": p.Cfg.APIKey}
}

// splitStopID splits "entity-number" ids; a bare number gets the
// default entity.
func splitStopID(id string) (entity, number string) {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i], id[i+1:]
	}
	return defaultEntity, id
}

type realtimeResponse struct {
	HalteDoorkomsten []struct {
		Doorkomsten []doorkomst `json:"doorkomsten"`
	} `json:"halteDoorkomsten"`
}

type doorkomst struct {
	LijnNummer             int    `json:"lijnnummer"`
	Richting               string `json:"richting"`
	Bestemming             string `json:"bestemming"`
	DienstregelingTijdstip string `json:"dienstregelingTijdstip"`
	RealtimeTijdstip       string `json:"real-timeTijdstip"`
}

type omleidingenResponse struct {
	Omleidingen []omleiding `json:"omleidingen"`
}

type omleiding struct {
	Titel          string         `json:"titel"`
	Omschrijving   string         `json:"omschrijving"`
	Type           string         `json:"type"`
	Lijnrichtingen []lijnrichting `json:"lijnrichtingen"`
	Haltes         []halteRef     `json:"haltes"`
	Periode        periode        `json:"periode"`
}

type lijnrichting struct {
	Lijnnummer int    `json:"lijnnummer"`
	Richting   string `json:"richting"`
}

type halteRef struct {
	Haltenummer string `json:"haltenummer"`
}

type periode struct {
	StartDatum string `json:"startDatum"`
	EindDatum  string `json:"eindDatum"`
}

type kleurenResponse struct {
	Voorgrond       kleur `json:"voorgrond"`
	Achtergrond     kleur `json:"achtergrond"`
	VoorgrondRand   kleur `json:"voorgrondRand"`
	AchtergrondRand kleur `json:"achtergrondRand"`
}

type kleur struct {
	Hex string `json:"hex"`
}

// The real-time endpoint reports local wall-clock times without an
// offset.
const wallClockLayout = "2006-01-02T15:04:05"

func (p *Provider) location() *time.Location {
	if feed, err := p.Feed(); err == nil {
		if loc, ok := feed.Location(); ok {
			return loc
		}
	}
	if p.Cfg.Timezone != "" {
		if loc, err := time.LoadLocation(p.Cfg.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// WaitingTimes returns upcoming doorkomsten at a stop. Scheduled and
// realtime times are both reported when the API predicts a deviation.
func (p *Provider) WaitingTimes(ctx context.Context, stopID, lang string) (*provider.WaitingTimesResult, error) {
	stops := []string{stopID}
	if stopID == "" {
		if len(p.Cfg.StopIDs) == 0 {
			return nil, errors.Wrap(provider.ErrBadRequest, "no stop_id given and no monitored stops configured")
		}
		stops = p.Cfg.StopIDs
	}

	feed, feedErr := p.Feed()
	if feedErr != nil {
		p.Logger.Warn("static feed unavailable, serving API data only", zap.Error(feedErr))
	}

	result := &provider.WaitingTimesResult{StopsData: map[string]*provider.StopData{}}
	anyCached := false
	for _, id := range stops {
		data, cached, err := p.stopWaitingTimes(ctx, feed, id)
		if err != nil {
			return nil, errors.Wrapf(err, "stop %s", id)
		}
		anyCached = anyCached || cached
		result.StopsData[id] = data
	}
	if anyCached {
		result.Meta = &model.ResponseMeta{Cached: true}
	}
	return result, nil
}

func (p *Provider) stopWaitingTimes(ctx context.Context, feed *gtfs.Feed, stopID string) (*provider.StopData, bool, error) {
	entity, number := splitStopID(stopID)

	var resp realtimeResponse
	cached, err := p.FetchJSON(ctx,
		"realtime_"+entity+"_"+number,
		fmt.Sprintf("%s/haltes/%s/%s/real-time?maxAantalDoorkomsten=10", p.Cfg.APIURL, entity, number),
		p.headers(), realtimeTTL, &resp)
	if err != nil {
		return nil, false, err
	}

	now := p.TimeNow()
	loc := p.location()

	waiting := []*model.WaitingTime{}
	for _, hd := range resp.HalteDoorkomsten {
		for _, d := range hd.Doorkomsten {
			wt := p.normalizeDoorkomst(feed, stopID, d, now, loc)
			if wt != nil {
				waiting = append(waiting, wt)
			}
		}
	}

	data := &provider.StopData{
		Lines: provider.GroupWaitingTimes(waiting, nil),
	}
	if feed != nil {
		if stop, ok := feed.Stop(number); ok {
			data.Name = stop.Name
			data.Translations = stop.Translations
			if stop.HasCoords {
				data.Coordinates = &schedule.Coordinates{Lat: stop.Lat, Lon: stop.Lon}
				data.Meta = &model.ResponseMeta{Source: "gtfs"}
			}
		}
	}
	if data.Name == "" {
		data.Name = stopID
	}
	if cached {
		if data.Meta == nil {
			data.Meta = &model.ResponseMeta{}
		}
		data.Meta.Cached = true
	}
	return data, cached, nil
}

func (p *Provider) normalizeDoorkomst(feed *gtfs.Feed, stopID string, d doorkomst, now time.Time, loc *time.Location) *model.WaitingTime {
	routeID := strconv.Itoa(d.LijnNummer)

	headsign := d.Bestemming
	if headsign == "" && feed != nil {
		// Resolve the terminus from the static variant for this
		// direction.
		key := strconv.Itoa(int(DirectionFromRichting(d.Richting)))
		if v, err := feed.Variant(routeID, key); err == nil {
			headsign = v.Headsign
		}
	}

	scheduled, err := time.ParseInLocation(wallClockLayout, d.DienstregelingTijdstip, loc)
	if err != nil {
		return nil
	}

	clock, minutes := provider.ClockAndMinutes(scheduled, now, loc)
	wt := &model.WaitingTime{
		Provider:         "delijn",
		StopID:           stopID,
		RouteID:          routeID,
		Headsign:         headsign,
		ScheduledTime:    clock,
		ScheduledMinutes: fmt.Sprintf("%d'", minutes),
		MinutesUntil:     minutes,
	}

	if d.RealtimeTijdstip != "" {
		if rt, err := time.ParseInLocation(wallClockLayout, d.RealtimeTijdstip, loc); err == nil {
			rtClock, rtMinutes := provider.ClockAndMinutes(rt, now, loc)
			wt.IsRealtime = true
			wt.RealtimeTime = rtClock
			wt.RealtimeMinutes = fmt.Sprintf("%d'", rtMinutes)
			wt.MinutesUntil = rtMinutes
			wt.DelaySeconds = int(rt.Sub(scheduled).Seconds())
		}
	}

	if wt.MinutesUntil < -2 {
		return nil
	}
	return wt
}

// ServiceMessages returns planned diversions touching the monitored
// stops.
func (p *Provider) ServiceMessages(ctx context.Context, lang string) (*provider.MessagesResult, error) {
	messages := []*model.ServiceMessage{}
	anyCached := false
	seen := map[string]bool{}

	for _, stopID := range p.Cfg.StopIDs {
		entity, number := splitStopID(stopID)

		var resp omleidingenResponse
		cached, err := p.FetchJSON(ctx,
			"omleidingen_"+entity+"_"+number,
			fmt.Sprintf("%s/haltes/%s/%s/omleidingen", p.Cfg.APIURL, entity, number),
			p.headers(), messagesTTL, &resp)
		if err != nil {
			return nil, errors.Wrapf(err, "stop %s", stopID)
		}
		anyCached = anyCached || cached

		for _, o := range resp.Omleidingen {
			text := o.Titel
			if o.Omschrijving != "" {
				text = o.Titel + ": " + o.Omschrijving
			}
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true

			msg := &model.ServiceMessage{
				Text: text,
				Type: o.Type,
			}
			for _, lr := range o.Lijnrichtingen {
				line := strconv.Itoa(lr.Lijnnummer)
				msg.Lines = append(msg.Lines, line)
				if p.IsMonitoredLine(line) {
					msg.IsMonitored = true
				}
			}
			for _, h := range o.Haltes {
				msg.Points = append(msg.Points, h.Haltenummer)
				if p.IsMonitoredStop(h.Haltenummer) {
					msg.IsMonitored = true
				}
			}
			msg.Stops = p.StopNames(msg.Points)
			if start, err := time.ParseInLocation("2006-01-02", o.Periode.StartDatum, p.location()); err == nil {
				msg.PeriodStart = &start
			}
			if end, err := time.ParseInLocation("2006-01-02", o.Periode.EindDatum, p.location()); err == nil {
				msg.PeriodEnd = &end
			}
			messages = append(messages, msg)
		}
	}

	result := &provider.MessagesResult{Messages: messages}
	if anyCached {
		result.Meta = &model.ResponseMeta{Cached: true}
	}
	return result, nil
}

// Colors fetches the line's display colors from the API, falling back
// to the static feed and then the defaults.
func (p *Provider) Colors(ctx context.Context, line string) (*model.RouteColors, error) {
	var resp kleurenResponse
	_, err := p.FetchJSON(ctx,
		"kleuren_"+line,
		fmt.Sprintf("%s/lijnen/%s/%s/lijnkleuren", p.Cfg.APIURL, defaultEntity, line),
		p.headers(), colorsTTL, &resp)
	if err != nil {
		if feed, ferr := p.Feed(); ferr == nil {
			return provider.ColorsFromFeed(feed, line)
		}
		return nil, err
	}

	colors := provider.DefaultColors()
	colors.Background = provider.NormalizeColor(resp.Achtergrond.Hex, colors.Background)
	colors.BackgroundBorder = provider.NormalizeColor(resp.AchtergrondRand.Hex, colors.Background)
	colors.Text = provider.NormalizeColor(resp.Voorgrond.Hex, colors.Text)
	colors.TextBorder = provider.NormalizeColor(resp.VoorgrondRand.Hex, colors.Text)
	return colors, nil
}

// Route returns the line's direction variants from the static feed.
func (p *Provider) Route(ctx context.Context, line string) (*provider.RouteResult, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return provider.RouteFromFeed(feed, line)
}

func (p *Provider) StopsByName(ctx context.Context, query string, limit int) ([]*schedule.StopSummary, error) {
	feed, err := p.Feed()
	if err != nil {
		return nil, err
	}
	return p.Engine.StopsByName(feed, query, limit), nil
}
