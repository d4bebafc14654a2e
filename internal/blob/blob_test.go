package blob

import (
	"context"
	"testing"
	"time"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://pmnm/raw/manual/2024-01-02/abc_file.csv")
	if err != nil {
		t.Fatalf("ParseURI() error = %v", err)
	}
	if bucket != "pmnm" {
		t.Errorf("bucket = %q, want pmnm", bucket)
	}
	if key != "raw/manual/2024-01-02/abc_file.csv" {
		t.Errorf("key = %q", key)
	}
}

func TestParseURI_Invalid(t *testing.T) {
	for _, uri := range []string{"http://x/y", "s3://", "s3://bucketonly", "s3://bucket/"} {
		if _, _, err := ParseURI(uri); err == nil {
			t.Errorf("ParseURI(%q) expected error", uri)
		}
	}
}

func TestKeys(t *testing.T) {
	day := time.Date(2024, 2, 5, 13, 0, 0, 0, time.UTC)
	if got, want := RawKey("manual", day, "abc", "f.csv"), "raw/manual/2024-02-05/abc_f.csv"; got != want {
		t.Errorf("RawKey = %q, want %q", got, want)
	}
	if got, want := StagingKey("manual", "f.csv"), "staging/manual/cleaned_f.csv"; got != want {
		t.Errorf("StagingKey = %q, want %q", got, want)
	}
	// Non-CSV uploads still stage as CSV; the key must say so or the
	// aggregation scan will skip them.
	if got, want := StagingKey("manual", "abc_f.xlsx"), "staging/manual/cleaned_abc_f.csv"; got != want {
		t.Errorf("StagingKey = %q, want %q", got, want)
	}
	if got, want := StagingKey("manual", "noext"), "staging/manual/cleaned_noext.csv"; got != want {
		t.Errorf("StagingKey = %q, want %q", got, want)
	}
	if got, want := FeaturesKey("manual", day), "features/manual_2024-02-05.csv"; got != want {
		t.Errorf("FeaturesKey = %q, want %q", got, want)
	}
}

func TestMemory_PutGetList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	uri, err := m.Put(ctx, "b", "staging/src/cleaned_a.csv", []byte("x"), "text/csv")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if uri != "s3://b/staging/src/cleaned_a.csv" {
		t.Errorf("Put() uri = %q", uri)
	}
	if _, err := m.Put(ctx, "b", "staging/src/cleaned_b.csv", []byte("y"), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := m.Put(ctx, "b", "staging/other/cleaned_c.csv", []byte("z"), "text/csv"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := m.Get(ctx, "b", "staging/src/cleaned_a.csv")
	if err != nil || string(data) != "x" {
		t.Fatalf("Get() = %q, %v", data, err)
	}

	uris, err := m.List(ctx, "b", "staging/src/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(uris) != 2 {
		t.Fatalf("List() = %v, want 2 entries", uris)
	}

	if _, err := m.Get(ctx, "b", "missing"); err == nil {
		t.Error("Get(missing) expected error")
	}
}
