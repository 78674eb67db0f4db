package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/assessly-hq/assessment-event-pipeline/internal/dispatch"
	"github.com/assessly-hq/assessment-event-pipeline/internal/ingest"
	"github.com/assessly-hq/assessment-event-pipeline/internal/model"
	"github.com/assessly-hq/assessment-event-pipeline/internal/store"
	apperrors "github.com/assessly-hq/assessment-event-pipeline/pkg/errors"
)

const adminToken = "test-admin-token"

// fakeStore implements both the handler's Store and the ingestion gate's
// persistence surface.
type fakeStore struct {
	batches    map[string]*model.Batch
	events     []model.Event
	queued     []string
	aggregates []model.DailyAggregate
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: make(map[string]*model.Batch)}
}

func (f *fakeStore) InsertEvent(ctx context.Context, e model.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) CreateBatch(ctx context.Context, b model.Batch) error {
	f.batches[b.BatchID] = &b
	return nil
}

func (f *fakeStore) Batch(ctx context.Context, batchID string) (*model.Batch, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, apperrors.ErrBatchNotFound
	}
	return b, nil
}

func (f *fakeStore) MarkQueued(ctx context.Context, batchID string) error {
	f.queued = append(f.queued, batchID)
	f.batches[batchID].Status = model.StatusQueued
	return nil
}

func (f *fakeStore) QueryDaily(ctx context.Context, filter store.AggregateFilter) ([]model.DailyAggregate, error) {
	var out []model.DailyAggregate
	for _, agg := range f.aggregates {
		if filter.Date != "" && agg.Date != filter.Date {
			continue
		}
		out = append(out, agg)
	}
	return out, nil
}

type fakeEnqueuer struct {
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, batchID string) (string, error) {
	f.enqueued = append(f.enqueued, batchID)
	return "job-" + batchID, nil
}

type fakeDeadLetters struct {
	jobs []dispatch.DeadLetter
}

func (f *fakeDeadLetters) Push(ctx context.Context, queue string, dl dispatch.DeadLetter) error {
	f.jobs = append(f.jobs, dl)
	return nil
}

func (f *fakeDeadLetters) List(ctx context.Context, queue string, limit int64) ([]dispatch.DeadLetter, error) {
	return f.jobs, nil
}

type fakeAdmitter struct {
	deny bool
}

func (f *fakeAdmitter) Admit(ctx context.Context, origin string) bool {
	return !f.deny
}

type fixture struct {
	store    *fakeStore
	queue    *fakeEnqueuer
	dlq      *fakeDeadLetters
	admitter *fakeAdmitter
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		queue:    &fakeEnqueuer{},
		dlq:      &fakeDeadLetters{},
		admitter: &fakeAdmitter{},
	}
	handler := New(ingest.New(f.store, nil), f.store, f.queue, f.dlq, f.admitter)
	router := NewRouter(handler, RouterConfig{AdminToken: adminToken})
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func csvUpload(t *testing.T, csvBody string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "events.csv")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := part.Write([]byte(csvBody)); err != nil {
		t.Fatalf("writing csv: %v", err)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestUploadCreatesBatch(t *testing.T) {
	f := newFixture(t)
	body, contentType := csvUpload(t, strings.Join([]string{
		"candidate_id,test_id,event_type,timestamp",
		"c1,t1,test_started,2026-01-15T10:00:00Z",
		"c2,t1,test_started,2026-01-15T10:05:00Z",
		"c3,t1,test_completed,",
	}, "\n"))

	resp, err := http.Post(f.server.URL+"/uploads", contentType, body)
	if err != nil {
		t.Fatalf("POST /uploads: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	result := decode[ingest.Result](t, resp)
	if result.InsertedCount != 2 {
		t.Errorf("inserted = %d, want 2", result.InsertedCount)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed = %d, want 1", result.FailedCount)
	}
	batch, ok := f.store.batches[result.BatchID]
	if !ok {
		t.Fatal("batch record not created")
	}
	if batch.Status != model.StatusUploaded || batch.TotalEvents != 2 {
		t.Errorf("batch = %+v, want uploaded with 2 events", batch)
	}
}

func TestUploadRateLimited(t *testing.T) {
	f := newFixture(t)
	f.admitter.deny = true
	body, contentType := csvUpload(t, "candidate_id,test_id,event_type,timestamp\n")

	resp, err := http.Post(f.server.URL+"/uploads", contentType, body)
	if err != nil {
		t.Fatalf("POST /uploads: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.WriteField("note", "no file here")
	writer.Close()

	resp, err := http.Post(f.server.URL+"/uploads", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /uploads: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProcessBatchEnqueues(t *testing.T) {
	f := newFixture(t)
	f.store.batches["b1"] = &model.Batch{BatchID: "b1", Status: model.StatusUploaded}

	resp, err := http.Post(f.server.URL+"/batches/b1/process", "application/json", nil)
	if err != nil {
		t.Fatalf("POST process: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[map[string]string](t, resp)
	if out["job_id"] == "" {
		t.Error("response missing job_id")
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0] != "b1" {
		t.Errorf("enqueued = %v, want [b1]", f.queue.enqueued)
	}
	if f.store.batches["b1"].Status != model.StatusQueued {
		t.Errorf("batch status = %s, want queued", f.store.batches["b1"].Status)
	}
}

func TestProcessBatchNotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/batches/missing/process", "application/json", nil)
	if err != nil {
		t.Fatalf("POST process: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestProcessBatchWrongStatus(t *testing.T) {
	f := newFixture(t)
	f.store.batches["b1"] = &model.Batch{BatchID: "b1", Status: model.StatusCompleted}

	resp, err := http.Post(f.server.URL+"/batches/b1/process", "application/json", nil)
	if err != nil {
		t.Fatalf("POST process: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if len(f.queue.enqueued) != 0 {
		t.Error("non-uploaded batch must not be enqueued")
	}
}

func TestGetBatch(t *testing.T) {
	f := newFixture(t)
	f.store.batches["b1"] = &model.Batch{
		BatchID:     "b1",
		FileName:    "events.csv",
		TotalEvents: 7,
		Status:      model.StatusCompleted,
		CreatedAt:   time.Now().UTC(),
	}

	resp, err := http.Get(f.server.URL + "/batches/b1")
	if err != nil {
		t.Fatalf("GET batch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	batch := decode[model.Batch](t, resp)
	if batch.BatchID != "b1" || batch.Status != model.StatusCompleted {
		t.Errorf("batch = %+v", batch)
	}
}

func TestDailyMetricsRequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics/daily")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/metrics/daily", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", resp.StatusCode)
	}
}

func TestDailyMetricsFiltered(t *testing.T) {
	f := newFixture(t)
	f.store.aggregates = []model.DailyAggregate{
		{Date: "2026-01-15", Metrics: map[string]int64{"test_started": 10}},
		{Date: "2026-01-16", Metrics: map[string]int64{"test_started": 3}},
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/metrics/daily?date=2026-01-15", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[struct {
		Count int                    `json:"count"`
		Data  []model.DailyAggregate `json:"data"`
	}](t, resp)
	if out.Count != 1 || out.Data[0].Date != "2026-01-15" {
		t.Errorf("response = %+v", out)
	}
}

func TestDailyMetricsEmpty(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/metrics/daily", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status with no aggregates = %d, want 404", resp.StatusCode)
	}
}

func TestDeadLetterListing(t *testing.T) {
	f := newFixture(t)
	f.dlq.jobs = []dispatch.DeadLetter{
		{JobID: "j1", BatchID: "b1", Attempts: 3, Reason: "tx aborted"},
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/admin/queues/batch-jobs/dlq", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET dlq: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[struct {
		Queue       string                `json:"queue"`
		FailedCount int                   `json:"failed_count"`
		Jobs        []dispatch.DeadLetter `json:"jobs"`
	}](t, resp)
	if out.Queue != dispatch.QueueName || out.FailedCount != 1 || out.Jobs[0].JobID != "j1" {
		t.Errorf("response = %+v", out)
	}
}

func TestDeadLetterUnknownQueue(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/admin/queues/nope/dlq", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET dlq: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
