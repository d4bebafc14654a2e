package web

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/catalog"
	"github.com/dx-insights/attp-pipeline/internal/logging"
	"github.com/dx-insights/attp-pipeline/internal/pipeline"
)

// UploadResponse acknowledges a queued ingest chain.
type UploadResponse struct {
	Message   string `json:"message"`
	RawURI    string `json:"raw_uri"`
	ConfigURI string `json:"config_uri,omitempty"`
	TaskID    string `json:"task_id"`
}

// handleUploadData accepts one raw data file plus optional cleaning
// config, persists both, registers the receipt and queues the two-stage
// chain. Identical bytes (same md5) are rejected as duplicates.
func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form", "bad_request")
		return
	}

	file, header, err := r.FormFile("data")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no data file provided", "bad_request")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	source := r.FormValue("source")
	if source == "" {
		source = "manual"
	}
	name := r.FormValue("name")
	if name == "" {
		name = source
	}
	owner := r.FormValue("owner")
	if owner == "" {
		owner = source
	}

	src, err := s.catalog.EnsureSource(ctx, catalog.SourceParams{
		Name:            name,
		Kind:            r.FormValue("kind"),
		URL:             r.FormValue("url"),
		Owner:           owner,
		License:         r.FormValue("license"),
		UpdateFrequency: r.FormValue("update_frequency"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	rawKey := blob.RawKey(source, time.Now(), checksum, header.Filename)
	rawURI, err := s.blobs.Put(ctx, s.cfg.Blob.Bucket, rawKey, data, header.Header.Get("Content-Type"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("store raw object: %w", err))
		return
	}

	rawFile, created, err := s.catalog.RegisterRawFile(ctx, src.ID, rawURI, checksum)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !created {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("file already ingested as %s (status %s)", rawFile.Path, rawFile.Status),
			"duplicate_file")
		return
	}

	inlineConfig, configURI, err := s.resolveUploadConfig(r, source)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	taskID, err := s.queue.Enqueue(ctx, pipeline.JobClean, pipeline.CleanJob{
		RawURI:    rawURI,
		Source:    source,
		Filename:  fmt.Sprintf("%s_%s", checksum, header.Filename),
		Config:    inlineConfig,
		ConfigURI: configURI,
		RawFileID: rawFile.ID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(ctx).Info("upload queued",
		"source", source,
		"raw_uri", rawURI,
		"task_id", taskID,
	)
	writeJSON(w, http.StatusAccepted, UploadResponse{
		Message:   "queued",
		RawURI:    rawURI,
		ConfigURI: configURI,
		TaskID:    taskID,
	})
}

// resolveUploadConfig reads the optional inline config file, storing a
// copy for traceability, or resolves a config_id reference to a
// previously stored config. Inline wins when both are present.
func (s *Server) resolveUploadConfig(r *http.Request, source string) ([]byte, string, error) {
	cfgFile, cfgHeader, err := r.FormFile("config")
	if err == nil {
		defer cfgFile.Close()
		payload, err := io.ReadAll(cfgFile)
		if err != nil {
			return nil, "", fmt.Errorf("read config upload: %w", err)
		}
		uri, err := s.blobs.Put(r.Context(), s.cfg.Blob.Bucket,
			blob.ConfigKey(source, cfgHeader.Filename), payload, "application/json")
		if err != nil {
			return nil, "", fmt.Errorf("store config: %w", err)
		}
		return payload, uri, nil
	}

	if configID := r.FormValue("config_id"); configID != "" {
		return nil, blob.URI(s.cfg.Blob.Bucket, blob.ConfigKey(source, configID)), nil
	}
	return nil, "", nil
}
