package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// Fetcher copies a representation's backing file into w.
type Fetcher interface {
	Fetch(ctx context.Context, rep models.Representation, w io.Writer) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rep models.Representation, w io.Writer) error

func (f FetcherFunc) Fetch(ctx context.Context, rep models.Representation, w io.Writer) error {
	return f(ctx, rep, w)
}

func fileID(rep models.Representation) (string, error) {
	id, ok := rep.FileID()
	if !ok {
		return "", fmt.Errorf("%w: representation %s is backed by a %q, not a file",
			models.ErrUnsupported, rep.ID, rep.Association.Type)
	}
	return id, nil
}

// BackendFetcher reads representation files from a Backend. Objects are
// keyed by file id.
type BackendFetcher struct {
	Backend Backend
	// Key overrides the object key for a file id.
	Key func(fileID string) string
}

func (f BackendFetcher) Fetch(ctx context.Context, rep models.Representation, w io.Writer) error {
	id, err := fileID(rep)
	if err != nil {
		return err
	}
	key := id
	if f.Key != nil {
		key = f.Key(id)
	}
	return f.Backend.ReadTo(ctx, key, w)
}

// SignedURLResolver issues short-lived download URLs for files.
type SignedURLResolver interface {
	SignedURL(ctx context.Context, fileID string) (string, error)
}

// SignedURLFetcher downloads representation files over HTTP(S) from signed
// URLs.
type SignedURLFetcher struct {
	resolver SignedURLResolver
	client   *http.Client
	logger   zerolog.Logger
}

// NewSignedURLFetcher uses http.DefaultClient when client is nil.
func NewSignedURLFetcher(resolver SignedURLResolver, client *http.Client, logger zerolog.Logger) *SignedURLFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SignedURLFetcher{
		resolver: resolver,
		client:   client,
		logger:   logger.With().Str("component", "signed-url-fetcher").Logger(),
	}
}

func (f *SignedURLFetcher) Fetch(ctx context.Context, rep models.Representation, w io.Writer) error {
	id, err := fileID(rep)
	if err != nil {
		return err
	}
	f.logger.Debug().Str("file_id", id).Msg("Getting signed url for file")
	signed, err := f.resolver.SignedURL(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve signed url for %s: %w", id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", id, err)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", models.ErrTransient, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", id, ErrObjectNotFound)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: download %s: unexpected status %s", models.ErrTransient, id, resp.Status)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", models.ErrTransient, id, err)
	}
	f.logger.Debug().
		Str("file_id", id).
		Int64("size", n).
		Dur("duration", time.Since(start)).
		Msg("Downloaded file")
	return nil
}
