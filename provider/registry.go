package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/model"
)

// At most this many upstream calls run concurrently for one multi-stop
// request.
const maxFanOut = 4

// Param documents one positional endpoint parameter.
type Param struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// EndpointDef binds an endpoint name to the capability interface that
// serves it. The table is fixed; adapters opt in by implementing the
// interface.
type EndpointDef struct {
	Name   string  `json:"name"`
	Method string  `json:"method"`
	Params []Param `json:"params,omitempty"`

	supported func(Provider) bool
	invoke    func(ctx context.Context, p Provider, params []string, body []byte) (interface{}, error)
	sample    func(p Provider) []string
}

type stopsRequest struct {
	StopIDs  []string `json:"stop_ids"`
	Language string   `json:"language,omitempty"`
}

type bboxRequest struct {
	MinLat    float64 `json:"min_lat"`
	MinLon    float64 `json:"min_lon"`
	MaxLat    float64 `json:"max_lat"`
	MaxLon    float64 `json:"max_lon"`
	CountOnly bool    `json:"count_only,omitempty"`
}

var endpointDefs = []EndpointDef{
	{
		Name:      "config",
		Method:    "GET",
		supported: func(Provider) bool { return true },
		invoke: func(_ context.Context, p Provider, _ []string, _ []byte) (interface{}, error) {
			return publicConfig(p.Config()), nil
		},
	},
	{
		Name:   "waiting_times",
		Method: "GET",
		Params: []Param{{Name: "stop_id"}, {Name: "language"}},
		supported: func(p Provider) bool {
			_, ok := p.(WaitingTimesProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			wp := p.(WaitingTimesProvider)
			return wp.WaitingTimes(ctx, param(params, 0), param(params, 1))
		},
		sample: func(p Provider) []string {
			if ids := p.Config().StopIDs; len(ids) > 0 {
				return []string{ids[0]}
			}
			return nil
		},
	},
	{
		Name:   "stops",
		Method: "POST",
		supported: func(p Provider) bool {
			_, ok := p.(WaitingTimesProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, _ []string, body []byte) (interface{}, error) {
			var req stopsRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, errors.Wrapf(ErrBadRequest, "decoding body: %v", err)
			}
			if len(req.StopIDs) == 0 {
				return nil, errors.Wrap(ErrBadRequest, "stop_ids is required")
			}
			return fanOutStops(ctx, p.(WaitingTimesProvider), req)
		},
	},
	{
		Name:   "vehicles",
		Method: "GET",
		Params: []Param{{Name: "line"}, {Name: "direction"}},
		supported: func(p Provider) bool {
			_, ok := p.(VehiclesProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			return p.(VehiclesProvider).Vehicles(ctx, param(params, 0), param(params, 1))
		},
		sample: func(p Provider) []string {
			if lines := p.Config().MonitoredLines; len(lines) > 0 {
				return []string{lines[0]}
			}
			return nil
		},
	},
	{
		Name:   "messages",
		Method: "GET",
		Params: []Param{{Name: "language"}},
		supported: func(p Provider) bool {
			_, ok := p.(MessagesProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			return p.(MessagesProvider).ServiceMessages(ctx, param(params, 0))
		},
	},
	{
		Name:   "route",
		Method: "GET",
		Params: []Param{{Name: "line", Required: true}},
		supported: func(p Provider) bool {
			_, ok := p.(RouteProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			line := param(params, 0)
			if line == "" {
				return nil, errors.Wrap(ErrBadRequest, "line is required")
			}
			return p.(RouteProvider).Route(ctx, line)
		},
		sample: func(p Provider) []string {
			if lines := p.Config().MonitoredLines; len(lines) > 0 {
				return []string{lines[0]}
			}
			return nil
		},
	},
	{
		Name:   "colors",
		Method: "GET",
		Params: []Param{{Name: "line", Required: true}},
		supported: func(p Provider) bool {
			_, ok := p.(ColorsProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			line := param(params, 0)
			if line == "" {
				return nil, errors.Wrap(ErrBadRequest, "line is required")
			}
			return p.(ColorsProvider).Colors(ctx, line)
		},
		sample: func(p Provider) []string {
			if lines := p.Config().MonitoredLines; len(lines) > 0 {
				return []string{lines[0]}
			}
			return nil
		},
	},
	{
		Name:   "nearest_stop",
		Method: "GET",
		Params: []Param{{Name: "lat", Required: true}, {Name: "lon", Required: true}},
		supported: func(p Provider) bool {
			_, ok := p.(NearestStopProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			lat, err := strconv.ParseFloat(param(params, 0), 64)
			if err != nil {
				return nil, errors.Wrap(ErrBadRequest, "lat must be a number")
			}
			lon, err := strconv.ParseFloat(param(params, 1), 64)
			if err != nil {
				return nil, errors.Wrap(ErrBadRequest, "lon must be a number")
			}
			return p.(NearestStopProvider).NearestStop(ctx, lat, lon, 0, 0)
		},
	},
	{
		Name:   "stops_by_name",
		Method: "GET",
		Params: []Param{{Name: "query", Required: true}, {Name: "limit"}},
		supported: func(p Provider) bool {
			_, ok := p.(StopsByNameProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			query := param(params, 0)
			if query == "" {
				return nil, errors.Wrap(ErrBadRequest, "query is required")
			}
			limit := 0
			if raw := param(params, 1); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					return nil, errors.Wrap(ErrBadRequest, "limit must be a positive integer")
				}
				limit = n
			}
			return p.(StopsByNameProvider).StopsByName(ctx, query, limit)
		},
	},
	{
		Name:   "trips_between",
		Method: "GET",
		Params: []Param{
			{Name: "start_id", Required: true},
			{Name: "end_id", Required: true},
			{Name: "date"},
			{Name: "language"},
		},
		supported: func(p Provider) bool {
			_, ok := p.(ScheduleExplorerProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			start, end := param(params, 0), param(params, 1)
			if start == "" || end == "" {
				return nil, errors.Wrap(ErrBadRequest, "start_id and end_id are required")
			}
			return p.(ScheduleExplorerProvider).TripsBetween(ctx, start, end, param(params, 2), param(params, 3))
		},
		sample: func(p Provider) []string {
			if ids := p.Config().StopIDs; len(ids) >= 2 {
				return []string{ids[0], ids[1]}
			}
			return nil
		},
	},
	{
		Name:   "stations_in_bbox",
		Method: "POST",
		supported: func(p Provider) bool {
			_, ok := p.(ScheduleExplorerProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, _ []string, body []byte) (interface{}, error) {
			var req bboxRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, errors.Wrapf(ErrBadRequest, "decoding body: %v", err)
			}
			return p.(ScheduleExplorerProvider).StationsInBBox(ctx,
				req.MinLat, req.MinLon, req.MaxLat, req.MaxLon, req.CountOnly)
		},
	},
	{
		Name:   "destinations_from",
		Method: "GET",
		Params: []Param{{Name: "stop_id", Required: true}, {Name: "language"}},
		supported: func(p Provider) bool {
			_, ok := p.(ScheduleExplorerProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			stopID := param(params, 0)
			if stopID == "" {
				return nil, errors.Wrap(ErrBadRequest, "stop_id is required")
			}
			return p.(ScheduleExplorerProvider).DestinationsFrom(ctx, stopID, param(params, 1))
		},
		sample: func(p Provider) []string {
			if ids := p.Config().StopIDs; len(ids) > 0 {
				return []string{ids[0]}
			}
			return nil
		},
	},
	{
		Name:   "origins_to",
		Method: "GET",
		Params: []Param{{Name: "stop_id", Required: true}, {Name: "language"}},
		supported: func(p Provider) bool {
			_, ok := p.(ScheduleExplorerProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			stopID := param(params, 0)
			if stopID == "" {
				return nil, errors.Wrap(ErrBadRequest, "stop_id is required")
			}
			return p.(ScheduleExplorerProvider).OriginsTo(ctx, stopID, param(params, 1))
		},
		sample: func(p Provider) []string {
			if ids := p.Config().StopIDs; len(ids) > 0 {
				return []string{ids[0]}
			}
			return nil
		},
	},
	{
		Name:   "routes_serving",
		Method: "GET",
		Params: []Param{{Name: "stop_id", Required: true}, {Name: "language"}},
		supported: func(p Provider) bool {
			_, ok := p.(ScheduleExplorerProvider)
			return ok
		},
		invoke: func(ctx context.Context, p Provider, params []string, _ []byte) (interface{}, error) {
			stopID := param(params, 0)
			if stopID == "" {
				return nil, errors.Wrap(ErrBadRequest, "stop_id is required")
			}
			return p.(ScheduleExplorerProvider).RoutesServing(ctx, stopID, param(params, 1))
		},
		sample: func(p Provider) []string {
			if ids := p.Config().StopIDs; len(ids) > 0 {
				return []string{ids[0]}
			}
			return nil
		},
	},
}

func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

// publicConfig is the config endpoint payload: operator settings
// without credentials.
func publicConfig(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"name":                cfg.Name,
		"api_url":             cfg.APIURL,
		"gtfs_url":            cfg.GTFSURL,
		"monitored_lines":     cfg.MonitoredLines,
		"stop_ids":            cfg.StopIDs,
		"rate_limit_delay_s":  cfg.RateLimitDelay.Seconds(),
		"gtfs_cache_ttl_s":    cfg.GTFSCacheTTL.Seconds(),
		"available_languages": cfg.AvailableLanguages,
	}
}

// fanOutStops queries waiting times for several stops concurrently,
// bounded by maxFanOut in-flight calls. Per-stop failures surface as
// warnings inside the combined payload rather than failing the whole
// request.
func fanOutStops(ctx context.Context, wp WaitingTimesProvider, req stopsRequest) (*WaitingTimesResult, error) {
	type result struct {
		stopID string
		res    *WaitingTimesResult
		err    error
	}

	sem := make(chan struct{}, maxFanOut)
	results := make(chan result, len(req.StopIDs))

	var wg sync.WaitGroup
	for _, stopID := range req.StopIDs {
		wg.Add(1)
		go func(stopID string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- result{stopID: stopID, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			res, err := wp.WaitingTimes(ctx, stopID, req.Language)
			results <- result{stopID: stopID, res: res, err: err}
		}(stopID)
	}
	wg.Wait()
	close(results)

	combined := &WaitingTimesResult{StopsData: map[string]*StopData{}}
	for r := range results {
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			combined.StopsData[r.stopID] = &StopData{
				Lines: map[string]*LineData{},
				Meta:  &model.ResponseMeta{Warning: r.err.Error()},
			}
			continue
		}
		for id, data := range r.res.StopsData {
			combined.StopsData[id] = data
		}
	}
	return combined, nil
}

// Registry holds the enabled adapters and dispatches endpoint calls to
// them.
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	providers map[string]Provider
	names     []string
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:    logger,
		providers: map[string]Provider{},
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.Name()]; !ok {
		r.names = append(r.names, p.Name())
		sort.Strings(r.names)
	}
	r.providers[p.Name()] = p
	r.logger.Info("provider registered",
		zap.String("provider", p.Name()),
		zap.Strings("endpoints", endpointNames(p)))
}

// Names lists registered providers in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.names...)
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "provider %s", name)
	}
	return p, nil
}

// Endpoints lists the endpoint names a registered provider supports.
func (r *Registry) Endpoints(name string) ([]string, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return endpointNames(p), nil
}

func endpointNames(p Provider) []string {
	names := []string{}
	for _, def := range endpointDefs {
		if def.supported(p) {
			names = append(names, def.Name)
		}
	}
	return names
}

// Call dispatches one endpoint invocation. Unknown providers and
// endpoints return ErrNotFound; endpoints the adapter doesn't
// implement return ErrUnsupported.
func (r *Registry) Call(ctx context.Context, providerName, endpoint string, params []string, body []byte) (interface{}, error) {
	p, err := r.Get(providerName)
	if err != nil {
		return nil, err
	}

	for _, def := range endpointDefs {
		if def.Name != endpoint {
			continue
		}
		if !def.supported(p) {
			return nil, errors.Wrapf(ErrUnsupported, "%s does not support %s", providerName, endpoint)
		}
		return def.invoke(ctx, p, params, body)
	}
	return nil, errors.Wrapf(ErrNotFound, "endpoint %s", endpoint)
}

// EndpointDoc describes one endpoint for the docs catalog, with a live
// sample response when default parameters are configured.
type EndpointDoc struct {
	Name         string      `json:"name"`
	Method       string      `json:"method"`
	Path         string      `json:"path"`
	Params       []Param     `json:"params,omitempty"`
	SampleParams []string    `json:"sample_params,omitempty"`
	Sample       interface{} `json:"sample,omitempty"`
}

type ProviderDoc struct {
	Provider  string        `json:"provider"`
	Endpoints []EndpointDoc `json:"endpoints"`
}

// Docs assembles the API catalog. Sample responses are obtained by
// invoking each endpoint with defaults from the operator config;
// failures just omit the sample.
func (r *Registry) Docs(ctx context.Context) []ProviderDoc {
	docs := []ProviderDoc{}
	for _, name := range r.Names() {
		p, err := r.Get(name)
		if err != nil {
			continue
		}

		doc := ProviderDoc{Provider: name}
		for _, def := range endpointDefs {
			if !def.supported(p) {
				continue
			}
			ed := EndpointDoc{
				Name:   def.Name,
				Method: def.Method,
				Path:   docPath(name, def),
				Params: def.Params,
			}
			if def.sample != nil {
				ed.SampleParams = def.sample(p)
			}
			if def.Method == "GET" && (len(ed.SampleParams) > 0 || len(def.Params) == 0) {
				sample, err := def.invoke(ctx, p, ed.SampleParams, nil)
				if err != nil {
					r.logger.Debug("docs sample failed",
						zap.String("provider", name),
						zap.String("endpoint", def.Name),
						zap.Error(err))
				} else {
					ed.Sample = sample
				}
			}
			doc.Endpoints = append(doc.Endpoints, ed)
		}
		docs = append(docs, doc)
	}
	return docs
}

func docPath(provider string, def EndpointDef) string {
	path := fmt.Sprintf("/api/%s/%s", provider, def.Name)
	for _, p := range def.Params {
		path += fmt.Sprintf("/{%s}", p.Name)
	}
	return path
}
