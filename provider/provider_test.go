package provider_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmobility/transithub/model"
	"github.com/openmobility/transithub/provider"
)

// fakeProvider implements waiting times and colors only; everything
// else must dispatch as unsupported.
type fakeProvider struct {
	cfg   provider.Config
	calls []string
}

func (f *fakeProvider) Name() string            { return f.cfg.Name }
func (f *fakeProvider) Config() provider.Config { return f.cfg }

func (f *fakeProvider) WaitingTimes(ctx context.Context, stopID, lang string) (*provider.WaitingTimesResult, error) {
	f.calls = append(f.calls, "waiting_times:"+stopID)
	return &provider.WaitingTimesResult{
		StopsData: map[string]*provider.StopData{
			stopID: {Name: "Stop " + stopID, Lines: map[string]*provider.LineData{}},
		},
	}, nil
}

func (f *fakeProvider) Colors(ctx context.Context, line string) (*model.RouteColors, error) {
	if line == "missing" {
		return nil, provider.ErrNotFound
	}
	return provider.DefaultColors(), nil
}

func newFake() *fakeProvider {
	return &fakeProvider{cfg: provider.Config{
		Name:           "fake",
		MonitoredLines: []string{"55"},
		StopIDs:        []string{"8122"},
	}}
}

func TestRegistryDispatch(t *testing.T) {
	r := provider.NewRegistry(nil)
	f := newFake()
	r.Register(f)

	out, err := r.Call(context.Background(), "fake", "waiting_times", []string{"8122"}, nil)
	require.NoError(t, err)
	res := out.(*provider.WaitingTimesResult)
	assert.Contains(t, res.StopsData, "8122")

	_, err = r.Call(context.Background(), "nope", "waiting_times", nil, nil)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	_, err = r.Call(context.Background(), "fake", "bogus", nil, nil)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	// Implemented by other adapters, but not this one.
	_, err = r.Call(context.Background(), "fake", "vehicles", nil, nil)
	assert.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestRegistryParamValidation(t *testing.T) {
	r := provider.NewRegistry(nil)
	r.Register(newFake())

	_, err := r.Call(context.Background(), "fake", "colors", nil, nil)
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	_, err = r.Call(context.Background(), "fake", "colors", []string{"55"}, nil)
	require.NoError(t, err)
}

func TestRegistryEndpoints(t *testing.T) {
	r := provider.NewRegistry(nil)
	r.Register(newFake())

	endpoints, err := r.Endpoints("fake")
	require.NoError(t, err)
	assert.Contains(t, endpoints, "config")
	assert.Contains(t, endpoints, "waiting_times")
	assert.Contains(t, endpoints, "stops")
	assert.Contains(t, endpoints, "colors")
	assert.NotContains(t, endpoints, "vehicles")
	assert.NotContains(t, endpoints, "messages")
}

func TestRegistryConfigEndpointHidesKey(t *testing.T) {
	r := provider.NewRegistry(nil)
	f := newFake()
	f.cfg.APIKey = "secret"
	r.Register(f)

	out, err := r.Call(context.Background(), "fake", "config", nil, nil)
	require.NoError(t, err)

	buf, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(buf), "secret")
	assert.Contains(t, string(buf), "monitored_lines")
}

func TestRegistryMultiStopFanOut(t *testing.T) {
	r := provider.NewRegistry(nil)
	r.Register(newFake())

	body := []byte(`{"stop_ids": ["a", "b", "c"]}`)
	out, err := r.Call(context.Background(), "fake", "stops", nil, body)
	require.NoError(t, err)

	res := out.(*provider.WaitingTimesResult)
	assert.Len(t, res.StopsData, 3)
	assert.Contains(t, res.StopsData, "a")
	assert.Contains(t, res.StopsData, "c")

	_, err = r.Call(context.Background(), "fake", "stops", nil, []byte(`{}`))
	assert.ErrorIs(t, err, provider.ErrBadRequest)

	_, err = r.Call(context.Background(), "fake", "stops", nil, []byte(`garbage`))
	assert.ErrorIs(t, err, provider.ErrBadRequest)
}

func TestDocs(t *testing.T) {
	r := provider.NewRegistry(nil)
	r.Register(newFake())

	docs := r.Docs(context.Background())
	require.Len(t, docs, 1)
	assert.Equal(t, "fake", docs[0].Provider)

	byName := map[string]provider.EndpointDoc{}
	for _, ed := range docs[0].Endpoints {
		byName[ed.Name] = ed
	}

	wt, ok := byName["waiting_times"]
	require.True(t, ok)
	assert.Equal(t, "GET", wt.Method)
	assert.Equal(t, "/api/fake/waiting_times/{stop_id}/{language}", wt.Path)
	// Sample drawn from the configured monitored stop.
	assert.Equal(t, []string{"8122"}, wt.SampleParams)
	assert.NotNil(t, wt.Sample)
}

func TestNormalizeColor(t *testing.T) {
	assert.Equal(t, "#C4008F", provider.NormalizeColor("c4008f", "#000000"))
	assert.Equal(t, "#C4008F", provider.NormalizeColor("#C4008F", "#000000"))
	assert.Equal(t, "#000000", provider.NormalizeColor("", "#000000"))
	assert.Equal(t, "#000000", provider.NormalizeColor("red", "#000000"))
	assert.Equal(t, "#000000", provider.NormalizeColor("C4008", "#000000"))
}

func TestLineDataMarshal(t *testing.T) {
	line := &provider.LineData{
		Meta: &model.ResponseMeta{Cached: true},
		Headsigns: map[string][]*model.WaitingTime{
			"Gare Centrale": {{Provider: "stib", MinutesUntil: 5}},
		},
	}

	buf, err := json.Marshal(line)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Contains(t, decoded, "Gare Centrale")
	assert.Contains(t, decoded, "_metadata")
}

func TestGroupWaitingTimes(t *testing.T) {
	waiting := []*model.WaitingTime{
		{RouteID: "1", Headsign: "A", MinutesUntil: 2},
		{RouteID: "1", Headsign: "A", MinutesUntil: 8},
		{RouteID: "1", Headsign: "B", MinutesUntil: 5},
		{RouteID: "2", Headsign: "C", MinutesUntil: 1},
	}

	lines := provider.GroupWaitingTimes(waiting, nil)
	require.Len(t, lines, 2)
	require.Len(t, lines["1"].Headsigns["A"], 2)
	// Input order preserved per group.
	assert.Equal(t, 2, lines["1"].Headsigns["A"][0].MinutesUntil)
	require.Len(t, lines["1"].Headsigns["B"], 1)
	require.Len(t, lines["2"].Headsigns["C"], 1)
}
