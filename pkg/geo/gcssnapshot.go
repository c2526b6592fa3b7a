package geo

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
)

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

// SnapshotConfig locates a location snapshot in a bucket.
type SnapshotConfig struct {
	BucketName string `yaml:"bucket_name"`
	ObjectName string `yaml:"object_name"`
}

// GCSSnapshotSource reads locations from a JSON-lines object, one
// types.Location per line. Objects ending in ".gz" are gunzipped.
type GCSSnapshotSource struct {
	client GCSClient
	config SnapshotConfig
	logger zerolog.Logger
}

// NewGCSSnapshotSource creates a LocationSource backed by a bucket object.
func NewGCSSnapshotSource(client GCSClient, config SnapshotConfig, logger zerolog.Logger) (*GCSSnapshotSource, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" || config.ObjectName == "" {
		return nil, errors.New("GCS bucket and object names are required")
	}
	return &GCSSnapshotSource{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSSnapshotSource").Logger(),
	}, nil
}

// Locations downloads and decodes the snapshot. Blank lines are ignored; a
// malformed line fails the whole read.
func (s *GCSSnapshotSource) Locations(ctx context.Context) ([]types.Location, error) {
	objectPath := fmt.Sprintf("gs://%s/%s", s.config.BucketName, s.config.ObjectName)
	rc, err := s.client.Bucket(s.config.BucketName).Object(s.config.ObjectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", objectPath, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if strings.HasSuffix(s.config.ObjectName, ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream for %s: %w", objectPath, err)
		}
		defer gz.Close()
		r = gz
	}

	var locations []types.Location
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var loc types.Location
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			return nil, fmt.Errorf("malformed location at %s line %d: %w", objectPath, line, err)
		}
		locations = append(locations, loc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectPath, err)
	}
	s.logger.Info().Str("object", objectPath).Int("count", len(locations)).Msg("Location snapshot read.")
	return locations, nil
}
