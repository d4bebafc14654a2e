package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Source is one registered data provider.
type Source struct {
	ID              pgtype.UUID        `json:"id"`
	Name            string             `json:"name"`
	Kind            pgtype.Text        `json:"kind"`
	URL             pgtype.Text        `json:"url"`
	Owner           pgtype.Text        `json:"owner"`
	License         pgtype.Text        `json:"license"`
	UpdateFrequency pgtype.Text        `json:"update_frequency"`
	CreatedAt       pgtype.Timestamptz `json:"created_at"`
}

// SourceParams carries the metadata an upload may attach to its source.
// Empty fields never overwrite values already on record.
type SourceParams struct {
	Name            string
	Kind            string
	URL             string
	Owner           string
	License         string
	UpdateFrequency string
}

// RawFile is the receipt for one uploaded raw object.
type RawFile struct {
	ID         pgtype.UUID        `json:"id"`
	SourceID   pgtype.UUID        `json:"source_id"`
	Path       string             `json:"path"`
	Checksum   string             `json:"checksum"`
	Status     string             `json:"status"`
	IngestedAt pgtype.Timestamptz `json:"ingested_at"`
}

// Raw file lifecycle states.
const (
	StatusNew    = "new"
	StatusParsed = "parsed"
	StatusFailed = "failed"
)

// IngestLog is one audit line written by a pipeline stage.
type IngestLog struct {
	ID        pgtype.UUID        `json:"id"`
	SourceKey string             `json:"source_key"`
	Log       string             `json:"log"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

func toPgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// EnsureSource registers a source by name, updating only the metadata
// fields the caller actually supplied.
func (c *Catalog) EnsureSource(ctx context.Context, params SourceParams) (Source, error) {
	const query = `
		INSERT INTO sources (name, kind, url, owner, license, update_frequency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			kind             = COALESCE(EXCLUDED.kind, sources.kind),
			url              = COALESCE(EXCLUDED.url, sources.url),
			owner            = COALESCE(EXCLUDED.owner, sources.owner),
			license          = COALESCE(EXCLUDED.license, sources.license),
			update_frequency = COALESCE(EXCLUDED.update_frequency, sources.update_frequency)
		RETURNING id, name, kind, url, owner, license, update_frequency, created_at`

	var s Source
	err := c.db.QueryRow(ctx, query,
		params.Name,
		toPgText(params.Kind),
		toPgText(params.URL),
		toPgText(params.Owner),
		toPgText(params.License),
		toPgText(params.UpdateFrequency),
	).Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &s.Owner, &s.License, &s.UpdateFrequency, &s.CreatedAt)
	if err != nil {
		return Source{}, &PersistenceError{Op: "ensure source " + params.Name, Err: err}
	}
	return s, nil
}

// ListSources returns every registered source, newest first.
func (c *Catalog) ListSources(ctx context.Context) ([]Source, error) {
	const query = `
		SELECT id, name, kind, url, owner, license, update_frequency, created_at
		FROM sources
		ORDER BY created_at DESC`

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, &PersistenceError{Op: "list sources", Err: err}
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &s.Owner, &s.License, &s.UpdateFrequency, &s.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan source", Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list sources", Err: err}
	}
	return out, nil
}

// RegisterRawFile records an uploaded raw object. The checksum is the
// dedup key: re-uploading identical bytes returns the existing receipt
// with created=false instead of a second row.
func (c *Catalog) RegisterRawFile(ctx context.Context, sourceID pgtype.UUID, path, checksum string) (RawFile, bool, error) {
	const insert = `
		INSERT INTO raw_files (source_id, path, checksum)
		VALUES ($1, $2, $3)
		ON CONFLICT (checksum) DO NOTHING
		RETURNING id, source_id, path, checksum, status, ingested_at`

	var rf RawFile
	err := c.db.QueryRow(ctx, insert, sourceID, path, checksum).
		Scan(&rf.ID, &rf.SourceID, &rf.Path, &rf.Checksum, &rf.Status, &rf.IngestedAt)
	if err == nil {
		return rf, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RawFile{}, false, &PersistenceError{Op: "register raw file", Err: err}
	}

	const existing = `
		SELECT id, source_id, path, checksum, status, ingested_at
		FROM raw_files WHERE checksum = $1`
	err = c.db.QueryRow(ctx, existing, checksum).
		Scan(&rf.ID, &rf.SourceID, &rf.Path, &rf.Checksum, &rf.Status, &rf.IngestedAt)
	if err != nil {
		return RawFile{}, false, &PersistenceError{Op: "load raw file by checksum", Err: err}
	}
	return rf, false, nil
}

// MarkRawFile moves a raw file receipt to a new lifecycle status.
func (c *Catalog) MarkRawFile(ctx context.Context, id pgtype.UUID, status string) error {
	tag, err := c.db.Exec(ctx, `UPDATE raw_files SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return &PersistenceError{Op: "mark raw file " + status, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &PersistenceError{Op: "mark raw file " + status, Err: pgx.ErrNoRows}
	}
	return nil
}

// LogIngest appends one audit line for a pipeline stage run.
func (c *Catalog) LogIngest(ctx context.Context, sourceKey, message string) error {
	_, err := c.db.Exec(ctx,
		`INSERT INTO ingest_logs (source_key, log) VALUES ($1, $2)`,
		sourceKey, message)
	if err != nil {
		return &PersistenceError{Op: "log ingest", Err: err}
	}
	return nil
}

// ListIngestLogs returns the most recent audit lines, newest first.
func (c *Catalog) ListIngestLogs(ctx context.Context, limit int) ([]IngestLog, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := c.db.Query(ctx, `
		SELECT id, source_key, log, created_at
		FROM ingest_logs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list ingest logs", Err: err}
	}
	defer rows.Close()

	var out []IngestLog
	for rows.Next() {
		var l IngestLog
		if err := rows.Scan(&l.ID, &l.SourceKey, &l.Log, &l.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan ingest log", Err: err}
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list ingest logs", Err: err}
	}
	return out, nil
}
