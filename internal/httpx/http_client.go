package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

// maxBodyBytes caps how much of a feed response is read.
const maxBodyBytes = 256 << 20

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}

// Client returns the shared client for calls leaving the process.
func Client() *http.Client {
	return externalHTTPClient
}

// Get fetches url with the shared client and returns the body of a 200
// response. headers may be nil.
func Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Body: truncateBody(body)}
	}
	return body, nil
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.URL, e.Code, e.Body)
}

func truncateBody(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
