package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/cleaning"
	"github.com/dx-insights/attp-pipeline/internal/features"
)

type fakeCatalog struct {
	mu       sync.Mutex
	statuses []string
	logs     []string
}

func (f *fakeCatalog) MarkRawFile(_ context.Context, _ pgtype.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeCatalog) LogIngest(_ context.Context, sourceKey, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, sourceKey+": "+message)
	return nil
}

type fakeRebuilder struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeRebuilder) Rebuild(_ context.Context, source string) (*features.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	if f.err != nil {
		return nil, f.err
	}
	return &features.Result{}, nil
}

func newTestPipeline(store *blob.Memory, cat *fakeCatalog, rb *fakeRebuilder) *Pipeline {
	return &Pipeline{
		Blobs:   store,
		Bucket:  "pmnm",
		Catalog: cat,
		Builder: rb,
		Queue:   NewQueue(1, 16, time.Minute),
		Now:     func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) },
	}
}

func TestQueueProcessesJobs(t *testing.T) {
	q := NewQueue(2, 8, time.Minute)
	done := make(chan string, 8)
	q.Register("echo", func(_ context.Context, job Job) error {
		done <- job.Payload.(string)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	if _, err := q.Enqueue(ctx, "echo", "hello"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case got := <-done:
		if got != "hello" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}

	cancel()
	q.Wait()
}

func TestQueueFullFailsFast(t *testing.T) {
	q := NewQueue(1, 1, time.Minute)
	// No workers started: the buffer holds exactly one job.
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "noop", nil); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, "noop", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestRunCleanStagesAndChains(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	rawURI, err := store.Put(ctx, "pmnm", "raw/manual/2024-03-15/abc_feed.csv",
		[]byte("Tên cơ sở,Số GCN ATTP\nNhà hàng A,A1\n"), "text/csv")
	if err != nil {
		t.Fatal(err)
	}

	cat := &fakeCatalog{}
	rb := &fakeRebuilder{}
	p := newTestPipeline(store, cat, rb)
	p.Register()

	job := CleanJob{
		RawURI:   rawURI,
		Source:   "manual",
		Filename: "abc_feed.csv",
		Config:   []byte(`{"column_map": {"so_gcn_attp": "so_gcn_attp"}}`),
	}
	if err := p.RunClean(ctx, job); err != nil {
		t.Fatalf("RunClean: %v", err)
	}

	staged, err := store.Get(ctx, "pmnm", blob.StagingKey("manual", "abc_feed.csv"))
	if err != nil {
		t.Fatalf("staged partition missing: %v", err)
	}
	if !strings.Contains(string(staged), "ten_co_so") {
		t.Errorf("staged headers not normalized: %q", staged)
	}

	if len(cat.statuses) != 1 || cat.statuses[0] != "parsed" {
		t.Errorf("raw file statuses = %v, want [parsed]", cat.statuses)
	}
	if len(cat.logs) != 1 || !strings.Contains(cat.logs[0], "Cleaning: Cleaned data from "+rawURI) {
		t.Errorf("audit = %v", cat.logs)
	}
	if !strings.Contains(cat.logs[0], "with config inline") {
		t.Errorf("audit must name the config identity: %v", cat.logs)
	}

	// The chain handed off exactly one rebuild job.
	ctx2, cancel := context.WithCancel(context.Background())
	p.Queue.Start(ctx2)
	deadline := time.After(2 * time.Second)
	for {
		rb.mu.Lock()
		n := len(rb.sources)
		rb.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("build_features never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	p.Queue.Wait()

	if rb.sources[0] != "manual" {
		t.Errorf("rebuild source = %q", rb.sources[0])
	}
}

type capturingFeatureStore struct {
	rows map[string][]features.FeatureRow
}

func (s *capturingFeatureStore) ReplaceFeatures(_ context.Context, source string, rows []features.FeatureRow) error {
	if s.rows == nil {
		s.rows = make(map[string][]features.FeatureRow)
	}
	s.rows[source] = rows
	return nil
}

type discardAudit struct{}

func (discardAudit) LogIngest(context.Context, string, string) error { return nil }

// An upload that arrives as a workbook must still come out of staging
// as a CSV partition the aggregation scan picks up.
func TestRunCleanXlsxUploadReachesAggregation(t *testing.T) {
	ctx := context.Background()

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	if err := wb.SetSheetRow(sheet, "A1", &[]any{"Số GCN ATTP", "Ngày cấp GCN ATTP"}); err != nil {
		t.Fatal(err)
	}
	if err := wb.SetSheetRow(sheet, "A2", &[]any{"A1", "2024-01-10"}); err != nil {
		t.Fatal(err)
	}
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	store := blob.NewMemory()
	rawURI, err := store.Put(ctx, "pmnm", "raw/manual/2024-03-15/abc_feed.xlsx", buf.Bytes(), "")
	if err != nil {
		t.Fatal(err)
	}

	cat := &fakeCatalog{}
	p := newTestPipeline(store, cat, &fakeRebuilder{})
	job := CleanJob{
		RawURI:   rawURI,
		Source:   "manual",
		Filename: "abc_feed.xlsx",
		Config:   []byte(`{"file": {"format": "xlsx"}, "types": {"ngay_cap_gcn_attp": "date:%Y-%m-%d"}}`),
	}
	if err := p.RunClean(ctx, job); err != nil {
		t.Fatalf("RunClean: %v", err)
	}

	key := blob.StagingKey("manual", "abc_feed.xlsx")
	if !strings.HasSuffix(key, ".csv") {
		t.Fatalf("staged key %q must carry a .csv extension", key)
	}
	if _, err := store.Get(ctx, "pmnm", key); err != nil {
		t.Fatalf("staged partition missing: %v", err)
	}

	fs := &capturingFeatureStore{}
	eng := &features.Engine{
		Blobs:  store,
		Bucket: "pmnm",
		Store:  fs,
		Audit:  discardAudit{},
		Now:    func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
	res, err := eng.Rebuild(ctx, "manual")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.PartitionsConsumed != 1 || res.UniqueFacilities != 1 {
		t.Errorf("result = %+v, want the workbook-born partition aggregated", res)
	}
	rows := fs.rows["manual"]
	if len(rows) != 1 || rows[0].PeriodMonth != "2024-01" {
		t.Errorf("feature rows = %+v", rows)
	}
}

func TestRunCleanBadConfigStopsChain(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	rawURI, err := store.Put(ctx, "pmnm", "raw/manual/2024-03-15/abc_feed.csv", []byte("a\n1\n"), "text/csv")
	if err != nil {
		t.Fatal(err)
	}

	cat := &fakeCatalog{}
	p := newTestPipeline(store, cat, &fakeRebuilder{})

	job := CleanJob{
		RawURI:   rawURI,
		Source:   "manual",
		Filename: "abc_feed.csv",
		Config:   []byte(`{"transforms": [{"op": "explode", "cols": ["a"]}]}`),
	}
	err = p.RunClean(ctx, job)

	var cfgErr *cleaning.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if len(cat.statuses) != 1 || cat.statuses[0] != "failed" {
		t.Errorf("raw file statuses = %v, want [failed]", cat.statuses)
	}
	if _, err := store.Get(ctx, "pmnm", blob.StagingKey("manual", "abc_feed.csv")); err == nil {
		t.Error("partition staged despite config failure")
	}
	if len(p.Queue.jobs) != 0 {
		t.Error("build_features enqueued despite failed clean")
	}
}

func TestRunCleanStoredConfigReference(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	rawURI, err := store.Put(ctx, "pmnm", "raw/manual/2024-03-15/abc_feed.csv",
		[]byte("Quận Huyện\nQ1\n"), "text/csv")
	if err != nil {
		t.Fatal(err)
	}
	cfgURI, err := store.Put(ctx, "pmnm", blob.ConfigKey("manual", "cfg.json"),
		[]byte(`{"transforms": [{"op": "upper", "cols": ["quan_huyen"]}]}`), "application/json")
	if err != nil {
		t.Fatal(err)
	}

	cat := &fakeCatalog{}
	p := newTestPipeline(store, cat, &fakeRebuilder{})

	job := CleanJob{RawURI: rawURI, Source: "manual", Filename: "abc_feed.csv", ConfigURI: cfgURI}
	if err := p.RunClean(ctx, job); err != nil {
		t.Fatalf("RunClean: %v", err)
	}

	staged, err := store.Get(ctx, "pmnm", blob.StagingKey("manual", "abc_feed.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(staged), "Q1") {
		t.Errorf("staged = %q", staged)
	}
	if !strings.Contains(cat.logs[0], cfgURI) {
		t.Errorf("audit must reference the stored config: %v", cat.logs)
	}
}

func TestRunBuildFeaturesEmptyStagingIsNotFatal(t *testing.T) {
	rb := &fakeRebuilder{err: features.ErrNoStagedPartitions}
	p := newTestPipeline(blob.NewMemory(), &fakeCatalog{}, rb)

	if err := p.RunBuildFeatures(context.Background(), BuildJob{Source: "empty"}); err != nil {
		t.Fatalf("empty staging must not fail the job: %v", err)
	}

	rb.err = errors.New("catalog down")
	if err := p.RunBuildFeatures(context.Background(), BuildJob{Source: "manual"}); err == nil {
		t.Fatal("real rebuild failures must surface")
	}
}
