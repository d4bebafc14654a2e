// Package blob abstracts the object store holding raw uploads, staged
// cleaned partitions and feature exports. Objects are addressed as
// "s3://<bucket>/<key>" URIs throughout the pipeline.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store is the object storage surface the pipeline depends on.
// Put returns the s3:// URI of the stored object.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// URI formats an object address.
func URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ParseURI splits an s3:// URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 uri: %q", uri)
	}
	return bucket, key, nil
}

// RawKey is the append-only location of an uploaded raw file.
func RawKey(source string, day time.Time, checksum, filename string) string {
	return fmt.Sprintf("raw/%s/%s/%s_%s", source, day.Format("2006-01-02"), checksum, filename)
}

// StagingKey is the location of a cleaned partition. Staging is
// append-only: the checksum-qualified filename keeps repeated uploads of
// different content apart, while re-cleaning identical bytes lands on
// the same object. Cleaned partitions are always CSV no matter what the
// upload was, so the original extension is replaced with .csv.
func StagingKey(source, filename string) string {
	name := strings.TrimSuffix(filename, path.Ext(filename))
	return fmt.Sprintf("staging/%s/cleaned_%s.csv", source, name)
}

// StagingPrefix is the listing prefix covering every cleaned partition
// of a source.
func StagingPrefix(source string) string {
	return fmt.Sprintf("staging/%s/", source)
}

// FeaturesKey is the location of a feature-set export.
func FeaturesKey(source string, day time.Time) string {
	return fmt.Sprintf("features/%s_%s.csv", source, day.Format("2006-01-02"))
}

// ConfigKey is the trace location of an inline-uploaded cleaning config.
func ConfigKey(source, filename string) string {
	return fmt.Sprintf("configs/%s/%s", source, filename)
}
