package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/evalpipe/internal/blob"
)

// Locator schemes understood by the resolver
const (
	schemeBlob   = "blob"
	schemeFile   = "file"
	schemeHTTP   = "http"
	schemeHTTPS  = "https"
	inlinePrefix = "inline:"
)

var errEmptyLocator = errors.New("no data source configured")

// DataSourceResolver opens the input data a job's locator points at
type DataSourceResolver struct {
	store blob.Store
	http  *http.Client
}

// NewDataSourceResolver creates a resolver. A nil store disables blob:// locators.
func NewDataSourceResolver(store blob.Store, timeout time.Duration) *DataSourceResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DataSourceResolver{
		store: store,
		http:  &http.Client{Timeout: timeout},
	}
}

// Open returns a reader over the located content. The caller closes it.
func (r *DataSourceResolver) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, errEmptyLocator
	}

	if strings.HasPrefix(locator, inlinePrefix) {
		return io.NopCloser(strings.NewReader(strings.TrimPrefix(locator, inlinePrefix))), nil
	}

	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return os.Open(locator)
	}

	switch u.Scheme {
	case schemeBlob:
		return r.openBlob(ctx, u)
	case schemeHTTP, schemeHTTPS:
		return r.openHTTP(ctx, locator)
	case schemeFile:
		return os.Open(u.Path)
	default:
		return nil, fmt.Errorf("unsupported data source scheme %q", u.Scheme)
	}
}

// openBlob resolves blob://container/key
func (r *DataSourceResolver) openBlob(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if r.store == nil {
		return nil, errors.New("blob store is not configured")
	}
	key := strings.TrimPrefix(u.Path, "/")
	return r.store.Read(ctx, u.Host, key)
}

func (r *DataSourceResolver) openHTTP(ctx context.Context, locator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data source: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("data source returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
