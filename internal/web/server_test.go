package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/catalog"
	"github.com/dx-insights/attp-pipeline/internal/config"
	"github.com/dx-insights/attp-pipeline/internal/features"
	"github.com/dx-insights/attp-pipeline/internal/pipeline"
)

type fakeCatalog struct {
	sources   []catalog.SourceParams
	checksums map[string]bool
	features  []features.FeatureRow
	byCity    map[string][]features.FeatureRow
	logs      []catalog.IngestLog
}

func (f *fakeCatalog) EnsureSource(_ context.Context, params catalog.SourceParams) (catalog.Source, error) {
	f.sources = append(f.sources, params)
	return catalog.Source{Name: params.Name}, nil
}

func (f *fakeCatalog) RegisterRawFile(_ context.Context, _ pgtype.UUID, path, checksum string) (catalog.RawFile, bool, error) {
	if f.checksums == nil {
		f.checksums = make(map[string]bool)
	}
	if f.checksums[checksum] {
		return catalog.RawFile{Path: path, Checksum: checksum, Status: catalog.StatusParsed}, false, nil
	}
	f.checksums[checksum] = true
	return catalog.RawFile{Path: path, Checksum: checksum, Status: catalog.StatusNew}, true, nil
}

func (f *fakeCatalog) ListFeatures(context.Context) ([]features.FeatureRow, error) {
	return f.features, nil
}

func (f *fakeCatalog) FeaturesByCity(_ context.Context, city string) ([]features.FeatureRow, error) {
	return f.byCity[city], nil
}

func (f *fakeCatalog) ListSources(context.Context) ([]catalog.Source, error) {
	return nil, nil
}

func (f *fakeCatalog) ListIngestLogs(context.Context, int) ([]catalog.IngestLog, error) {
	return f.logs, nil
}

type fakeQueue struct {
	jobs []pipeline.CleanJob
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, name string, payload any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if name == pipeline.JobClean {
		f.jobs = append(f.jobs, payload.(pipeline.CleanJob))
	}
	return "task-123", nil
}

func newTestServer(cat Catalog, store blob.Store, q Enqueuer) *Server {
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = 10 << 20
	cfg.Blob.Bucket = "pmnm"
	return NewServer(cfg, cat, store, q)
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for field, nameAndContent := range files {
		part, err := mw.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(nameAndContent[1])); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

func TestUploadDataQueuesChain(t *testing.T) {
	cat := &fakeCatalog{}
	store := blob.NewMemory()
	q := &fakeQueue{}
	srv := newTestServer(cat, store, q)

	body, contentType := multipartUpload(t,
		map[string]string{"source": "hcm_attp", "kind": "attp", "update_frequency": "monthly"},
		map[string][2]string{"data": {"feed.csv", "Tên cơ sở\nNhà hàng A\n"}},
	)
	req := httptest.NewRequest(http.MethodPost, "/upload/data", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "queued" || resp.TaskID != "task-123" {
		t.Errorf("response = %+v", resp)
	}
	if !strings.Contains(resp.RawURI, "s3://pmnm/raw/hcm_attp/") {
		t.Errorf("raw uri = %q", resp.RawURI)
	}

	if len(q.jobs) != 1 {
		t.Fatalf("enqueued %d clean jobs", len(q.jobs))
	}
	job := q.jobs[0]
	if job.Source != "hcm_attp" || job.RawURI != resp.RawURI {
		t.Errorf("job = %+v", job)
	}
	if !strings.HasSuffix(job.Filename, "_feed.csv") {
		t.Errorf("job filename not checksum-qualified: %q", job.Filename)
	}

	if len(cat.sources) != 1 || cat.sources[0].Kind != "attp" {
		t.Errorf("source registration = %+v", cat.sources)
	}
	if cat.sources[0].Owner != "hcm_attp" {
		t.Errorf("owner = %q, want the source key when the form omits it", cat.sources[0].Owner)
	}

	_, key, err := blob.ParseURI(resp.RawURI)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), "pmnm", key); err != nil {
		t.Errorf("raw object not stored: %v", err)
	}
}

func TestUploadDataDuplicateChecksum(t *testing.T) {
	cat := &fakeCatalog{}
	q := &fakeQueue{}
	srv := newTestServer(cat, blob.NewMemory(), q)

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t, nil,
			map[string][2]string{"data": {"feed.csv", "same bytes"}})
		req := httptest.NewRequest(http.MethodPost, "/upload/data", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusAccepted {
		t.Fatalf("first upload: %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate upload status = %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "duplicate_file" {
		t.Errorf("code = %q", resp.Code)
	}
	if len(q.jobs) != 1 {
		t.Errorf("duplicate must not enqueue a second chain: %d jobs", len(q.jobs))
	}
}

func TestUploadDataInlineConfigStored(t *testing.T) {
	store := blob.NewMemory()
	q := &fakeQueue{}
	srv := newTestServer(&fakeCatalog{}, store, q)

	body, contentType := multipartUpload(t, nil, map[string][2]string{
		"data":   {"feed.csv", "a\n1\n"},
		"config": {"clean.json", `{"file": {"format": "csv"}}`},
	})
	req := httptest.NewRequest(http.MethodPost, "/upload/data", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ConfigURI != blob.URI("pmnm", blob.ConfigKey("manual", "clean.json")) {
		t.Errorf("config uri = %q", resp.ConfigURI)
	}
	if len(q.jobs) != 1 || len(q.jobs[0].Config) == 0 {
		t.Error("inline config not handed to the clean job")
	}

	if _, err := store.Get(context.Background(), "pmnm", blob.ConfigKey("manual", "clean.json")); err != nil {
		t.Errorf("config copy not stored: %v", err)
	}
}

func TestUploadDataMissingFile(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, blob.NewMemory(), &fakeQueue{})

	body, contentType := multipartUpload(t, map[string]string{"source": "manual"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/upload/data", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadDataQueueFull(t *testing.T) {
	q := &fakeQueue{err: fmt.Errorf("enqueue clean_data: %w", pipeline.ErrQueueFull)}
	srv := newTestServer(&fakeCatalog{}, blob.NewMemory(), q)

	body, contentType := multipartUpload(t, nil,
		map[string][2]string{"data": {"feed.csv", "a\n1\n"}})
	req := httptest.NewRequest(http.MethodPost, "/upload/data", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestFeaturesEndpoints(t *testing.T) {
	p50 := 12.0
	cat := &fakeCatalog{
		features: []features.FeatureRow{{Source: "hcm_attp", PeriodMonth: "2024-01", FacilityCount: 3, ProcessingTimeP50: &p50}},
		byCity:   map[string][]features.FeatureRow{"ho chi minh": {{Source: "hcm_attp", PeriodMonth: "2024-01"}}},
	}
	srv := newTestServer(cat, blob.NewMemory(), &fakeQueue{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attp/all", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/attp/all status = %d", rec.Code)
	}
	var rows []features.FeatureRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ProcessingTimeP50 == nil || *rows[0].ProcessingTimeP50 != 12 {
		t.Errorf("rows = %+v", rows)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attp/indicators?city=ho+chi+minh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/attp/indicators status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attp/indicators", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing city status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeCatalog{}, blob.NewMemory(), &fakeQueue{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
