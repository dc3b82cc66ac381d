package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"rbfnet/config"
	"rbfnet/db"
	"rbfnet/monitoring"
	"rbfnet/pipeline"
	"rbfnet/training"
)

type testEnv struct {
	server *Server
	store  *db.Store
	hub    *monitoring.Hub
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(nil, []string{"*"}, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	predictor, err := training.NewPredictionService(store, 4, metrics, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := ServerConfigFrom(config.Default())
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg, Deps{
		Catalog:   store,
		Runner:    training.NewRunner(nil, store, hub, metrics),
		Predictor: predictor,
		Hub:       hub,
		Metrics:   metrics,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return &testEnv{server: srv, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
}

func stepsCSV() string {
	var b strings.Builder
	b.WriteString("x,class\n")
	for i := 0; i < 20; i++ {
		label := "lo"
		if i >= 10 {
			label = "hi"
		}
		fmt.Fprintf(&b, "%d,%s\n", i, label)
	}
	return b.String()
}

func linearCSV(n int) string {
	var b strings.Builder
	b.WriteString("x1,x2,y\n")
	for i := 0; i < n; i++ {
		x1 := float64(i) / float64(n)
		x2 := float64((i*3)%n) / float64(n)
		fmt.Fprintf(&b, "%g,%g,%g\n", x1, x2, x1-x2)
	}
	return b.String()
}

// waitJob polls the job until it leaves the pending/running states.
func (e *testEnv) waitJob(t *testing.T, id string) Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w := e.do(t, http.MethodGet, "/api/jobs/"+id, "")
		if w.Code != http.StatusOK {
			t.Fatalf("job lookup returned %d", w.Code)
		}
		var job Job
		decode(t, w, &job)
		if job.Status == JobDone || job.Status == JobFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Job{}
}

func (e *testEnv) train(t *testing.T, query, body string) Job {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/trainings?"+query, body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var accepted map[string]string
	decode(t, w, &accepted)
	if accepted["job_id"] == "" || accepted["status"] != string(JobPending) {
		t.Fatalf("unexpected accept body %v", accepted)
	}
	return e.waitJob(t, accepted["job_id"])
}

func TestHealthHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handleHealth)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	expected := `{"status":"ok"}`
	if rr.Body.String() != expected+"\n" && rr.Body.String() != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestTrainingLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	job := env.train(t, "target=class&name=steps&seed=5&normalize=true", stepsCSV())
	if job.Status != JobDone {
		t.Fatalf("job failed: %s", job.Error)
	}
	if job.Result == nil || job.Result.TrainingID == 0 || !job.Result.Classification {
		t.Fatalf("unexpected result %+v", job.Result)
	}
	id := job.Result.TrainingID

	w := env.do(t, http.MethodGet, "/api/trainings", "")
	var list struct {
		Trainings []db.TrainingSummary `json:"trainings"`
	}
	decode(t, w, &list)
	if len(list.Trainings) != 1 || list.Trainings[0].ID != id || list.Trainings[0].Split != "80/20" {
		t.Fatalf("unexpected catalogue %+v", list.Trainings)
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/trainings/%d", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stored db.Training
	decode(t, w, &stored)
	if stored.Info.Name != "steps" || len(stored.Classes) != 2 {
		t.Fatalf("unexpected training %+v", stored.Info)
	}

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/trainings/%d/predict", id), `{"inputs":[[0],[19]]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pred training.Prediction
	decode(t, w, &pred)
	if len(pred.Outputs) != 2 || len(pred.Labels) != 2 {
		t.Fatalf("unexpected prediction %+v", pred)
	}
	for _, label := range pred.Labels {
		if label != "hi" && label != "lo" {
			t.Fatalf("unknown label %q", label)
		}
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/trainings/%d/export", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, fmt.Sprintf("training_%d.json", id)) {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	var doc db.ExportDocument
	decode(t, w, &doc)
	if _, ok := doc.Metrics[db.SetTest]; !ok {
		t.Errorf("export is missing test metrics: %+v", doc.Metrics)
	}

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/trainings/%d", id), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/trainings/%d", id), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/trainings/%d/predict", id), `{"inputs":[[0]]}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted model should not be served from the cache, got %d", w.Code)
	}
}

func TestTrainingJobFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.train(t, "target=y&centers=500&error=0.1", linearCSV(20))
	if job.Status != JobFailed || !strings.Contains(job.Error, "configuration") {
		t.Fatalf("expected configuration failure, got %+v", job)
	}
}

func TestStartTrainingBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name  string
		query string
		body  string
		want  int
	}{
		{"missing target", "", linearCSV(10), http.StatusBadRequest},
		{"bad centers", "target=y&centers=many", linearCSV(10), http.StatusBadRequest},
		{"bad normalize", "target=y&normalize=perhaps", linearCSV(10), http.StatusBadRequest},
		{"unsupported format", "target=y&format=xml", linearCSV(10), http.StatusBadRequest},
		{"broken json", "target=y&format=json", `[{"y": 1}, {`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/trainings?"+tt.query, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] == "" {
				t.Fatal("error body missing")
			}
		})
	}
}

func TestPredictErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.train(t, "target=y&centers=4&error=0.5", linearCSV(20))
	if job.Status != JobDone {
		t.Fatalf("job failed: %s", job.Error)
	}
	id := job.Result.TrainingID

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"width mismatch", fmt.Sprintf("/api/trainings/%d/predict", id), `{"inputs":[[1]]}`, http.StatusBadRequest},
		{"no rows", fmt.Sprintf("/api/trainings/%d/predict", id), `{"inputs":[]}`, http.StatusBadRequest},
		{"invalid body", fmt.Sprintf("/api/trainings/%d/predict", id), `inputs`, http.StatusBadRequest},
		{"unknown id", "/api/trainings/9999/predict", `{"inputs":[[1,2]]}`, http.StatusNotFound},
		{"invalid id", "/api/trainings/abc/predict", `{"inputs":[[1,2]]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/inspect", "x,color\n1,red\n,blue\n3,red\n")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp inspectResponse
	decode(t, w, &resp)
	if resp.Dataset.Patterns != 3 || len(resp.Columns) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	x, color := resp.Columns[0], resp.Columns[1]
	if x.Kind != pipeline.KindNumeric || x.Missing != 1 || x.Min != 1 || x.Max != 3 || x.Mean != 2 {
		t.Fatalf("unexpected numeric summary %+v", x)
	}
	if color.Kind != pipeline.KindCategorical || color.Unique != 2 {
		t.Fatalf("unexpected categorical summary %+v", color)
	}

	w = env.do(t, http.MethodPost, "/api/inspect", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty upload, got %d", w.Code)
	}
}

func TestAutoConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/autoconfig?target=class", stepsCSV())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp training.AutoConfig
	decode(t, w, &resp)
	if resp.Suggestion.Config.Centers != 8 || resp.Suggestion.Config.ErrorThreshold != 0.35 {
		t.Fatalf("unexpected suggestion %+v", resp.Suggestion)
	}
	if resp.Dataset.Patterns != 20 || !resp.Statistics.Classification {
		t.Fatalf("unexpected dataset summary %+v / %+v", resp.Dataset, resp.Statistics)
	}

	w = env.do(t, http.MethodPost, "/api/autoconfig?target=missing", stepsCSV())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown target, got %d", w.Code)
	}
}

func TestAutoConfigFitsStratifiedSplit(t *testing.T) {
	env := newTestEnv(t, nil)
	var b strings.Builder
	b.WriteString("x,class\n")
	for i := 0; i < 9; i++ {
		fmt.Fprintf(&b, "%d,c%d\n", i, i%3)
	}
	data := b.String()

	// three classes of three rows round to two training rows each
	w := env.do(t, http.MethodPost, "/api/autoconfig?target=class&train_ratio=0.8", data)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp training.AutoConfig
	decode(t, w, &resp)
	if resp.TrainSize != 6 || resp.TestSize != 3 {
		t.Fatalf("unexpected split %d/%d", resp.TrainSize, resp.TestSize)
	}
	cfg := resp.Suggestion.Config
	if cfg.Centers != 6 {
		t.Fatalf("expected centers capped at the training set, got %d", cfg.Centers)
	}

	job := env.train(t, fmt.Sprintf("target=class&train_ratio=0.8&save=false&centers=%d&error=%g", cfg.Centers, cfg.ErrorThreshold), data)
	if job.Status != JobDone {
		t.Fatalf("training with the suggestion failed: %s", job.Error)
	}
}

func TestJobStoreEvictsOldestJob(t *testing.T) {
	jobs := newJobStore(2, time.Hour)
	first := jobs.create()
	second := jobs.create()
	third := jobs.create()

	if _, ok := jobs.get(first.ID); ok {
		t.Fatal("oldest job should have been evicted")
	}
	for _, id := range []string{second.ID, third.ID} {
		if _, ok := jobs.get(id); !ok {
			t.Fatalf("job %s missing", id)
		}
	}

	// updating an evicted job is a no-op
	jobs.update(first.ID, func(j *Job) { j.Status = JobDone })
	if _, ok := jobs.get(first.ID); ok {
		t.Fatal("update must not bring an evicted job back")
	}
}

func TestJobStoreExpiresJobs(t *testing.T) {
	jobs := newJobStore(10, 200*time.Millisecond)
	stale := jobs.create()
	fresh := jobs.create()

	time.Sleep(120 * time.Millisecond)
	jobs.update(fresh.ID, func(j *Job) { j.Status = JobRunning })
	time.Sleep(120 * time.Millisecond)

	if _, ok := jobs.get(stale.ID); ok {
		t.Fatal("job should have expired")
	}
	job, ok := jobs.get(fresh.ID)
	if !ok || job.Status != JobRunning {
		t.Fatalf("updated job should stay, got %+v %v", job, ok)
	}
}

func TestJobEndpointForgetsEvictedJobs(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.MaxJobs = 1 })
	first := env.train(t, "target=y&centers=4&error=0.5&save=false", linearCSV(20))
	second := env.train(t, "target=y&centers=4&error=0.5&save=false", linearCSV(20))

	if w := env.do(t, http.MethodGet, "/api/jobs/"+first.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an evicted job, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/jobs/"+second.ID, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for the latest job, got %d", w.Code)
	}
}

func TestUploadLimit(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.MaxBodyBytes = 64 })
	w := env.do(t, http.MethodPost, "/api/trainings?target=y", linearCSV(50))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.AllowedOrigins = []string{"http://ui.local"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/trainings", nil)
	req.Header.Set("Origin", "http://ui.local")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://ui.local" {
		t.Fatalf("unexpected preflight response %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin should not be allowed")
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing request id or security headers: %v", w.Header())
	}

	w = env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `rbfnet_api_requests_total{method="GET",path="GET /api/health",status="200"}`) {
		t.Fatalf("request metrics not exported:\n%s", w.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["error"] == "" {
		t.Fatal("error body missing")
	}
}

func TestPanicLogCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := middleware(DefaultServerConfig(), zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	panics := logs.FilterMessage("panic recovered").All()
	if len(panics) != 1 {
		t.Fatalf("expected one panic log, got %d", len(panics))
	}
	if id := panics[0].ContextMap()["request_id"]; id != "req-42" {
		t.Fatalf("panic logged with request id %q", id)
	}
	requests := logs.FilterMessage("request").All()
	if len(requests) != 1 || requests[0].ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("request log should record the 500: %+v", requests)
	}
}

func TestTrainingEventsOverWebsocket(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws/trainings", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/trainings?target=y&centers=3&error=0.5", "text/csv", strings.NewReader(linearCSV(15)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var seen []monitoring.EventType
	for {
		var ev monitoring.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event after %v: %v", seen, err)
		}
		seen = append(seen, ev.Type)
		if ev.Type == monitoring.EventSaved {
			break
		}
		if ev.Type == monitoring.EventFailed {
			t.Fatalf("training failed: %s", ev.Data)
		}
	}
	if seen[0] != monitoring.EventStarted {
		t.Fatalf("first event = %s, want started", seen[0])
	}
}
