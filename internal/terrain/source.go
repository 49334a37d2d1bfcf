package terrain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source loads the raw terrain spreadsheet.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// NewSource returns an HTTPSource for http(s) locations and a FileSource otherwise.
func NewSource(location string, timeout time.Duration) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location, timeout)
	}
	return FileSource{Path: location}
}

// FileSource reads the spreadsheet from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return data, nil
}

// HTTPSource fetches the spreadsheet from a URL.
type HTTPSource struct {
	URL    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{URL: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Load(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", s.URL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}
