package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"pagescope/internal/broker"
	"pagescope/internal/dashboard"
	"pagescope/internal/domain"
	"pagescope/internal/store"
	"pagescope/internal/util"
	"pagescope/internal/viewport"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailyRecords(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			Timestamp: jan1.AddDate(0, 0, i),
			Metrics: map[domain.MetricKey]float64{
				domain.MetricClicks:      float64(10 + i%7),
				domain.MetricImpressions: float64(100 + i),
			},
		}
	}
	return out
}

type fixture struct {
	sched  *util.ManualScheduler
	broker *broker.Broker
	charts *viewport.Registry
	api    *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	sched := util.NewManualScheduler()
	b := broker.New(broker.DefaultConfig(), broker.WithScheduler(sched), broker.WithLogger(util.Discard()))
	recs := NewRecorders()
	charts := viewport.NewRegistry(viewport.DefaultConfig(),
		viewport.WithLogger(util.Discard()),
		viewport.WithSink(b),
		viewport.WithDelegateFactory(recs.Factory))
	b.SetFollower(charts)

	records := dailyRecords(n)
	charts.GetOrCreate("clicks")
	charts.GetOrCreate("impressions")
	charts.SetDatasetAll(records)
	summary := dashboard.NewConsumer(b, records, util.Discard())

	api := NewServer(b, charts, summary, recs, util.Discard())
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		ts.Close()
		summary.Close()
		b.Close()
	})
	return &fixture{sched: sched, broker: b, charts: charts, api: api, http: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestRangeEndpoints(t *testing.T) {
	f := newFixture(t, 90)

	var rr RangeResponse
	if code := f.do(t, "GET", "/api/range", nil, &rr); code != http.StatusOK {
		t.Fatalf("GET /api/range = %d", code)
	}
	if rr.Current.Start != "" || rr.Current.Label != "All time" || rr.Phase != "idle" {
		t.Errorf("initial range = %+v", rr)
	}

	code := f.do(t, "PUT", "/api/range", RangeJSON{Start: "2024-01-10", End: "2024-01-19"}, &rr)
	if code != http.StatusAccepted {
		t.Fatalf("PUT /api/range = %d", code)
	}
	if rr.Current.Start != "2024-01-10" || rr.Committed.Start != "" || rr.Phase != "pending" {
		t.Errorf("after PUT = %+v", rr)
	}

	f.sched.Flush()
	f.do(t, "GET", "/api/range", nil, &rr)
	if rr.Committed.End != "2024-01-19" || rr.Phase != "idle" {
		t.Errorf("after flush = %+v", rr)
	}
	var chart ChartResponse
	f.do(t, "GET", "/api/charts/clicks", nil, &chart)
	if chart.VisibleStart != 9 || chart.VisibleEnd != 19 {
		t.Errorf("chart window after explicit range = [%d,%d)", chart.VisibleStart, chart.VisibleEnd)
	}

	if code := f.do(t, "PUT", "/api/range", RangeJSON{Start: "2024-02-01", End: "2024-01-01"}, nil); code != http.StatusBadRequest {
		t.Errorf("inverted range = %d, want 400", code)
	}
	if code := f.do(t, "PUT", "/api/range", "not an object", nil); code != http.StatusBadRequest {
		t.Errorf("bad body = %d, want 400", code)
	}

	if code := f.do(t, "DELETE", "/api/range", nil, &rr); code != http.StatusAccepted {
		t.Fatalf("DELETE /api/range = %d", code)
	}
	f.sched.Flush()
	f.do(t, "GET", "/api/charts/clicks", nil, &chart)
	if chart.ZoomLevel != 1 || chart.VisibleEnd != 90 {
		t.Errorf("chart after DELETE = %+v", chart)
	}
}

func TestChartEndpoints(t *testing.T) {
	f := newFixture(t, 120)

	var list ChartsResponse
	f.do(t, "GET", "/api/charts", nil, &list)
	if len(list.Charts) != 2 || list.Active != "clicks" {
		t.Errorf("charts = %+v", list)
	}
	if code := f.do(t, "PUT", "/api/charts/impressions/active", nil, &list); code != http.StatusOK || list.Active != "impressions" {
		t.Errorf("set active = %d %+v", code, list)
	}
	if code := f.do(t, "PUT", "/api/charts/nope/active", nil, nil); code != http.StatusNotFound {
		t.Errorf("set unknown active = %d", code)
	}

	level, pointer := 4.0, 0.5
	var chart ChartResponse
	code := f.do(t, "POST", "/api/charts/clicks/zoom", ZoomRequest{Level: &level, Pointer: &pointer}, &chart)
	if code != http.StatusOK {
		t.Fatalf("zoom = %d", code)
	}
	if chart.ZoomLevel != 4 || len(chart.Labels) != 30 || chart.VisibleEnd-chart.VisibleStart != 30 {
		t.Errorf("zoomed chart = zoom %v, %d labels, [%d,%d)", chart.ZoomLevel, len(chart.Labels), chart.VisibleStart, chart.VisibleEnd)
	}
	if chart.Redraws == 0 || chart.Range == nil || len(chart.Series) == 0 {
		t.Errorf("zoomed chart missing frame data: %+v", chart)
	}
	if f.broker.Phase() != broker.PhasePending {
		t.Error("zoom gesture did not reach the broker")
	}

	bad := -1.0
	if code := f.do(t, "POST", "/api/charts/clicks/zoom", ZoomRequest{Level: &bad}, nil); code != http.StatusBadRequest {
		t.Errorf("negative zoom = %d", code)
	}
	if code := f.do(t, "POST", "/api/charts/clicks/zoom", ZoomRequest{}, nil); code != http.StatusBadRequest {
		t.Errorf("empty zoom = %d", code)
	}

	var pan PanResponse
	if code := f.do(t, "POST", "/api/charts/clicks/pan/right", nil, &pan); code != http.StatusOK || !pan.Moved {
		t.Errorf("pan right = %d %+v", code, pan)
	}
	if code := f.do(t, "POST", "/api/charts/clicks/pan/up", nil, nil); code != http.StatusBadRequest {
		t.Errorf("pan up = %d", code)
	}
	if code := f.do(t, "GET", "/api/charts/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown chart = %d", code)
	}

	f.do(t, "POST", "/api/charts/clicks/reset", nil, &chart)
	if chart.ZoomLevel != 1 || chart.VisibleStart != 0 || chart.VisibleEnd != 120 {
		t.Errorf("after reset = %+v", chart)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	f := newFixture(t, 28)

	var sum SummaryResponse
	if code := f.do(t, "GET", "/api/summary?sort=value", nil, &sum); code != http.StatusOK {
		t.Fatalf("GET /api/summary = %d", code)
	}
	if sum.Points != 28 || sum.SortLabel != "VALUE" || len(sum.Metrics) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Metrics[0].Metric != string(domain.MetricImpressions) {
		t.Errorf("top metric = %s", sum.Metrics[0].Metric)
	}

	f.do(t, "PUT", "/api/range", RangeJSON{Start: "2024-01-15", End: "2024-01-28"}, nil)
	f.sched.Flush()
	f.do(t, "GET", "/api/summary?sort=value", nil, &sum)
	if sum.Points != 14 || sum.Range != "2024-01-15 – 2024-01-28" {
		t.Errorf("summary after range = %d points, %q", sum.Points, sum.Range)
	}
	if sum.Metrics[0].Change == "" {
		t.Error("no change vs previous period")
	}
}

type memSource map[string][]domain.Record

func (m memSource) LoadDataset(_ context.Context, name string) ([]domain.Record, error) {
	r, ok := m[name]
	if !ok {
		return nil, store.ErrDatasetNotFound
	}
	return r, nil
}

func (m memSource) ListDatasets(context.Context) ([]string, error) {
	return []string{"long", "short"}, nil
}

func TestDatasetEndpoints(t *testing.T) {
	f := newFixture(t, 30)

	if code := f.do(t, "GET", "/api/datasets", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("datasets without source = %d", code)
	}

	f.api.SetSource(memSource{"long": dailyRecords(200), "short": dailyRecords(5)}, "initial")
	var ds DatasetsResponse
	f.do(t, "GET", "/api/datasets", nil, &ds)
	if ds.Active != "initial" || len(ds.Datasets) != 2 {
		t.Errorf("datasets = %+v", ds)
	}

	if code := f.do(t, "PUT", "/api/datasets/long", nil, &ds); code != http.StatusOK || ds.Active != "long" {
		t.Fatalf("load = %d %+v", code, ds)
	}
	var chart ChartResponse
	f.do(t, "GET", "/api/charts/impressions", nil, &chart)
	if chart.Length != 200 {
		t.Errorf("chart length after load = %d", chart.Length)
	}
	if code := f.do(t, "PUT", "/api/datasets/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing dataset = %d", code)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, 5)
	req, _ := http.NewRequest("OPTIONS", f.http.URL+"/api/range", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}
