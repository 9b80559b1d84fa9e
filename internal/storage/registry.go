package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Config carries per-scheme settings for OpenBackend. Location fields
// (bucket, container, base path) come from the URL.
type Config struct {
	S3    S3Config
	Azure AzureBlobConfig
}

// Constructor builds a backend for a parsed location URL.
type Constructor func(ctx context.Context, u *url.URL, cfg Config, logger zerolog.Logger) (Backend, error)

// Registry maps URL schemes to backend constructors.
type Registry map[string]Constructor

// DefaultRegistry knows file://, s3:// and azure:// locations.
func DefaultRegistry() Registry {
	return Registry{
		"file":  openLocal,
		"s3":    openS3,
		"azure": openAzure,
	}
}

// Schemes lists the registered schemes in order.
func (r Registry) Schemes() []string {
	schemes := make([]string, 0, len(r))
	for s := range r {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Open parses location and dispatches on its scheme. A bare path is treated
// as file://.
func (r Registry) Open(ctx context.Context, location string, cfg Config, logger zerolog.Logger) (Backend, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid storage location %q: %w", location, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "file"
		u = &url.URL{Scheme: "file", Path: location}
	}
	ctor, ok := r[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported storage scheme %q (known: %s)", scheme, strings.Join(r.Schemes(), ", "))
	}
	return ctor(ctx, u, cfg, logger)
}

func openLocal(_ context.Context, u *url.URL, _ Config, logger zerolog.Logger) (Backend, error) {
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("file location needs a path")
	}
	return NewLocalBackend(path, logger)
}

func openS3(ctx context.Context, u *url.URL, cfg Config, logger zerolog.Logger) (Backend, error) {
	s3cfg := cfg.S3
	s3cfg.Bucket = u.Host
	s3cfg.Prefix = strings.Trim(u.Path, "/")
	return NewS3Backend(ctx, &s3cfg, logger)
}

func openAzure(_ context.Context, u *url.URL, cfg Config, logger zerolog.Logger) (Backend, error) {
	azcfg := cfg.Azure
	azcfg.ContainerName = u.Host
	azcfg.Prefix = strings.Trim(u.Path, "/")
	return NewAzureBlobBackend(&azcfg, logger)
}
