package feed

import (
	"context"
	"fmt"
	"os"

	"vadash/internal/domain"
	"vadash/internal/httpx"
)

// Fetcher retrieves the raw feed document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
	Source() string
}

type FileFetcher struct {
	Path string
}

func (f FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading feed file: %w", err)
	}
	return data, nil
}

func (f FileFetcher) Source() string { return f.Path }

// HTTPFetcher pulls the feed through the shared external HTTP client. Token,
// when set, is sent as "Authorization: Token <token>".
type HTTPFetcher struct {
	URL   string
	Token string
}

func (f HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	var headers map[string]string
	if f.Token != "" {
		headers = map[string]string{"Authorization": "Token " + f.Token}
	}
	data, err := httpx.Get(ctx, f.URL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	return data, nil
}

func (f HTTPFetcher) Source() string { return f.URL }

// Load fetches and parses in one step.
func Load(ctx context.Context, f Fetcher) (domain.Dataset, error) {
	data, err := f.Fetch(ctx)
	if err != nil {
		return domain.Dataset{}, err
	}
	ds, err := Parse(data)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("parsing feed from %s: %w", f.Source(), err)
	}
	return ds, nil
}
