package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/depth-data/distance.report/internal/db"
	"github.com/depth-data/distance.report/internal/frame"
	"github.com/depth-data/distance.report/internal/measure"
	"github.com/depth-data/distance.report/internal/sampler"
)

type fakeEngine struct {
	active  bool
	cloud   *frame.Cloud
	results []sampler.Result
}

func (f *fakeEngine) Start() { f.active = true }
func (f *fakeEngine) Stop()  { f.active = false }
func (f *fakeEngine) Status() measure.Status {
	return measure.Status{Active: f.active, DeviceConnected: true}
}
func (f *fakeEngine) Snapshot() measure.Snapshot {
	return measure.Snapshot{Timestamp: 1700000000, Status: f.Status(), Results: f.results}
}
func (f *fakeEngine) PointCloud() (*frame.Cloud, error) {
	if f.cloud == nil {
		return nil, sampler.ErrNoFrameData
	}
	return f.cloud, nil
}

type fakeHistory struct {
	samples []db.Sample
	stats   []db.PointStat
	err     error
}

func (f *fakeHistory) RecentSamples(hours int) ([]db.Sample, error) { return f.samples, f.err }
func (f *fakeHistory) PointStats(hours int) ([]db.PointStat, error) { return f.stats, f.err }

type fakeBroker struct{ connected bool }

func (f *fakeBroker) Connected() bool { return f.connected }

func newTestServer(e *fakeEngine, h *fakeHistory) *httptest.Server {
	var hist History
	if h != nil {
		hist = h
	}
	return httptest.NewServer(NewServer(e, hist, &fakeBroker{connected: true}).ServeMux())
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(&fakeEngine{active: true}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	var body map[string]interface{}
	decode(t, resp, &body)

	if body["active"] != true {
		t.Errorf("active = %v", body["active"])
	}
	if body["mqtt_connected"] != true {
		t.Errorf("mqtt_connected = %v", body["mqtt_connected"])
	}
}

func TestStartStopEndpoints(t *testing.T) {
	e := &fakeEngine{}
	ts := newTestServer(e, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/start", "", nil)
	if err != nil {
		t.Fatalf("POST /start: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "started" || !e.active {
		t.Errorf("start: body=%v active=%v", body, e.active)
	}

	resp, err = http.Post(ts.URL+"/stop", "", nil)
	if err != nil {
		t.Fatalf("POST /stop: %v", err)
	}
	decode(t, resp, &body)
	if body["status"] != "stopped" || e.active {
		t.Errorf("stop: body=%v active=%v", body, e.active)
	}

	// GET on a control endpoint is rejected.
	resp, err = http.Get(ts.URL + "/start")
	if err != nil {
		t.Fatalf("GET /start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /start status = %d, want 405", resp.StatusCode)
	}
}

func TestMeasurementsEndpoint(t *testing.T) {
	e := &fakeEngine{
		active: true,
		results: []sampler.Result{{
			Name: "point_1", X: 40, Y: 30,
			AvgDistance: 1500, ValidPixels: 25, Valid: true, LastUpdate: 1699999990,
		}},
	}
	ts := newTestServer(e, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/measurements")
	if err != nil {
		t.Fatalf("GET /measurements: %v", err)
	}
	var doc measure.Document
	decode(t, resp, &doc)

	p1, ok := doc.Measurements["point_1"]
	if !ok {
		t.Fatal("point_1 missing")
	}
	if p1.DistanceMm != 1500 || p1.DistanceM != 1.5 {
		t.Errorf("distances = %v mm / %v m", p1.DistanceMm, p1.DistanceM)
	}
	if p1.AgeSeconds != 10 {
		t.Errorf("age = %d, want 10", p1.AgeSeconds)
	}
}

func TestPointcloudEndpointNoFrame(t *testing.T) {
	ts := newTestServer(&fakeEngine{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/pointcloud")
	if err != nil {
		t.Fatalf("GET /pointcloud: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestPointcloudEndpoint(t *testing.T) {
	e := &fakeEngine{cloud: &frame.Cloud{
		Width: 160, Height: 60,
		Data: []frame.CloudPoint{{X: 1, Y: 2, D: 345}},
	}}
	ts := newTestServer(e, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/pointcloud")
	if err != nil {
		t.Fatalf("GET /pointcloud: %v", err)
	}
	var cloud frame.Cloud
	decode(t, resp, &cloud)
	if len(cloud.Data) != 1 || cloud.Data[0].D != 345 {
		t.Errorf("cloud = %+v", cloud)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := &fakeHistory{samples: []db.Sample{{Point: "point_1", AvgMm: 1000, Valid: true}}}
	ts := newTestServer(&fakeEngine{}, h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/history?hours=2")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	var samples []db.Sample
	decode(t, resp, &samples)
	if len(samples) != 1 || samples[0].Point != "point_1" {
		t.Errorf("samples = %+v", samples)
	}

	// Bad hours parameter.
	resp, err = http.Get(ts.URL + "/history?hours=zero")
	if err != nil {
		t.Fatalf("GET /history bad: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad hours status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryDisabled(t *testing.T) {
	ts := newTestServer(&fakeEngine{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/history")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when history disabled", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := &fakeHistory{stats: []db.PointStat{{Point: "point_1", Samples: 12, MeanMm: 1045}}}
	ts := newTestServer(&fakeEngine{}, h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	var stats []db.PointStat
	decode(t, resp, &stats)
	if len(stats) != 1 || stats[0].MeanMm != 1045 {
		t.Errorf("stats = %+v", stats)
	}
}
