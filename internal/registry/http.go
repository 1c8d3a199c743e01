package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxRecordBytes = 16 * 1024

// HTTPClient reads subjects from GET {base}/subjects/{holderID}.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	httpDo  func(*http.Request) (*http.Response, error)
}

func NewHTTPClient(baseURL string, timeout time.Duration, httpClient *http.Client) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("registry url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpDo:  httpClient.Do,
	}, nil
}

func (c *HTTPClient) Lookup(ctx context.Context, holderID string) (Record, bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subjects/"+url.PathEscape(holderID), nil)
	if err != nil {
		return Record{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpDo(req)
	if err != nil {
		return Record{}, false, fmt.Errorf("registry lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Record{}, false, nil
	case resp.StatusCode != http.StatusOK:
		return Record{}, false, fmt.Errorf("registry lookup: unexpected status %d", resp.StatusCode)
	}
	var rec Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordBytes)).Decode(&rec); err != nil {
		return Record{}, false, fmt.Errorf("registry lookup: decode: %w", err)
	}
	if rec.HolderID == "" {
		rec.HolderID = holderID
	}
	return rec, true, nil
}
