package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/cleaning"
	"github.com/dx-insights/attp-pipeline/internal/features"
	"github.com/dx-insights/attp-pipeline/internal/logging"
)

// Job names of the ingest chain.
const (
	JobClean         = "clean_data"
	JobBuildFeatures = "build_features"
)

// CleanJob carries one raw upload through the cleaning stage.
type CleanJob struct {
	RawURI    string
	Source    string
	Filename  string
	Config    []byte // inline cleaning config, wins over ConfigURI
	ConfigURI string // stored cleaning config to fall back to
	RawFileID pgtype.UUID
}

// BuildJob triggers a full feature rebuild for one source.
type BuildJob struct {
	Source string
}

// IngestCatalog is the slice of the catalog the jobs need: raw file
// lifecycle updates and audit lines.
type IngestCatalog interface {
	MarkRawFile(ctx context.Context, id pgtype.UUID, status string) error
	LogIngest(ctx context.Context, sourceKey, message string) error
}

// Rebuilder runs the aggregation stage for one source.
type Rebuilder interface {
	Rebuild(ctx context.Context, source string) (*features.Result, error)
}

// Pipeline wires the two stages to their dependencies and registers
// them on a queue.
type Pipeline struct {
	Blobs   blob.Store
	Bucket  string
	Catalog IngestCatalog
	Builder Rebuilder
	Queue   *Queue

	// Now feeds @now config defaults. Defaults to time.Now.
	Now func() time.Time
}

// Register binds both job handlers to the queue.
func (p *Pipeline) Register() {
	p.Queue.Register(JobClean, func(ctx context.Context, job Job) error {
		cj, ok := job.Payload.(CleanJob)
		if !ok {
			return fmt.Errorf("%s: unexpected payload %T", JobClean, job.Payload)
		}
		return p.RunClean(ctx, cj)
	})
	p.Queue.Register(JobBuildFeatures, func(ctx context.Context, job Job) error {
		bj, ok := job.Payload.(BuildJob)
		if !ok {
			return fmt.Errorf("%s: unexpected payload %T", JobBuildFeatures, job.Payload)
		}
		return p.RunBuildFeatures(ctx, bj)
	})
}

// RunClean executes the cleaning stage: fetch the raw object, resolve
// its config, normalize, stage the cleaned partition and hand off to
// the aggregation stage. Config and format failures mark the raw file
// failed and stop the chain; nothing is staged.
func (p *Pipeline) RunClean(ctx context.Context, job CleanJob) error {
	log := logging.WithFields(ctx, "source", job.Source, "raw_uri", job.RawURI)

	bucket, key, err := blob.ParseURI(job.RawURI)
	if err != nil {
		return p.failRawFile(ctx, job, fmt.Errorf("raw uri: %w", err))
	}
	raw, err := p.Blobs.Get(ctx, bucket, key)
	if err != nil {
		return p.failRawFile(ctx, job, fmt.Errorf("fetch raw object: %w", err))
	}

	cfgPayload, cfgName, err := p.resolveConfig(ctx, job)
	if err != nil {
		return p.failRawFile(ctx, job, err)
	}
	cfg := &cleaning.Config{}
	if len(cfgPayload) > 0 {
		cfg, err = cleaning.Parse(cfgPayload)
		if err != nil {
			return p.failRawFile(ctx, job, err)
		}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cleaned, err := cleaning.Clean(raw, cfg, now())
	if err != nil {
		return p.failRawFile(ctx, job, err)
	}

	encoded, err := cleaned.EncodeCSV()
	if err != nil {
		return p.failRawFile(ctx, job, fmt.Errorf("encode cleaned partition: %w", err))
	}
	stagingURI, err := p.Blobs.Put(ctx, p.Bucket, blob.StagingKey(job.Source, job.Filename), encoded, "text/csv")
	if err != nil {
		return p.failRawFile(ctx, job, fmt.Errorf("stage cleaned partition: %w", err))
	}

	msg := fmt.Sprintf("Cleaned data from %s with config %s", job.RawURI, cfgName)
	if err := p.Catalog.LogIngest(ctx, "Cleaning", msg); err != nil {
		log.Warn("audit log failed", "error", err)
	}
	if err := p.Catalog.MarkRawFile(ctx, job.RawFileID, "parsed"); err != nil {
		log.Warn("raw file status update failed", "error", err)
	}

	if _, err := p.Queue.Enqueue(ctx, JobBuildFeatures, BuildJob{Source: job.Source}); err != nil {
		return fmt.Errorf("enqueue %s after clean: %w", JobBuildFeatures, err)
	}

	log.Info("partition staged", "staging_uri", stagingURI, "rows", cleaned.NumRows())
	return nil
}

// resolveConfig returns the config payload and a human-readable name
// for the audit trail. Inline payloads win over stored references; with
// neither, the defaults apply (CSV, headers normalized, no coercions).
func (p *Pipeline) resolveConfig(ctx context.Context, job CleanJob) ([]byte, string, error) {
	if len(job.Config) > 0 {
		return job.Config, "inline", nil
	}
	if job.ConfigURI != "" {
		bucket, key, err := blob.ParseURI(job.ConfigURI)
		if err != nil {
			return nil, "", &cleaning.ConfigError{Reason: "config uri " + job.ConfigURI, Err: err}
		}
		payload, err := p.Blobs.Get(ctx, bucket, key)
		if err != nil {
			return nil, "", &cleaning.ConfigError{Reason: "fetch config " + job.ConfigURI, Err: err}
		}
		return payload, job.ConfigURI, nil
	}
	return nil, "default", nil
}

// failRawFile records the failure on the raw file receipt and returns
// the original error so the worker logs it. The feature stage is never
// enqueued for a failed clean.
func (p *Pipeline) failRawFile(ctx context.Context, job CleanJob, cause error) error {
	if err := p.Catalog.MarkRawFile(ctx, job.RawFileID, "failed"); err != nil {
		logging.FromContext(ctx).Warn("raw file status update failed", "error", err)
	}
	return fmt.Errorf("clean %s: %w", job.RawURI, cause)
}

// RunBuildFeatures executes the aggregation stage. An empty staging
// area is not an error worth failing the job over; everything else
// surfaces.
func (p *Pipeline) RunBuildFeatures(ctx context.Context, job BuildJob) error {
	_, err := p.Builder.Rebuild(ctx, job.Source)
	if errors.Is(err, features.ErrNoStagedPartitions) {
		logging.WithFields(ctx, "source", job.Source).Warn("nothing staged, skipping rebuild")
		return nil
	}
	return err
}
