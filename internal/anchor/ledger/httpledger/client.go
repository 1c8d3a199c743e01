// Package httpledger talks to a ledger gateway over JSON/HTTP.
//
// Gateway contract:
//
//	POST {base}/v1/estimates          {request}                -> {"cost": n}
//	POST {base}/v1/anchors            {request, "cost_limit"}  -> receipt
//	GET  {base}/v1/anchors/{fixedID}                           -> receipt | 404
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"certledger/internal/anchor"
)

const maxResponseBytes = 64 * 1024

type Client struct {
	baseURL string
	apiKey  string
	httpDo  func(*http.Request) (*http.Response, error)
}

func New(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("ledger gateway url is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpDo:  doer,
	}, nil
}

type estimateResponse struct {
	Cost uint64 `json:"cost"`
}

type submitRequest struct {
	anchor.AnchorRequest
	CostLimit uint64 `json:"cost_limit"`
}

type receiptBody struct {
	TxID       string `json:"tx_id"`
	BlockRef   string `json:"block_ref"`
	FixedID    string `json:"fixed_id"`
	AnchoredAt string `json:"anchored_at"`
}

func (c *Client) EstimateCost(ctx context.Context, req anchor.AnchorRequest) (uint64, error) {
	var resp estimateResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/estimates", req, &resp)
	if err != nil {
		return 0, classify(ctx, anchor.ErrorCostEstimation, status, err)
	}
	if resp.Cost == 0 {
		return 0, anchor.NewLedgerError(anchor.ErrorBadData, "gateway returned zero cost estimate", nil)
	}
	return resp.Cost, nil
}

func (c *Client) Submit(ctx context.Context, req anchor.AnchorRequest, costLimit uint64) (anchor.Receipt, error) {
	var body receiptBody
	status, err := c.do(ctx, http.MethodPost, "/v1/anchors", submitRequest{AnchorRequest: req, CostLimit: costLimit}, &body)
	if err != nil {
		return anchor.Receipt{}, classify(ctx, anchor.ErrorSubmission, status, err)
	}
	return toReceipt(body)
}

func (c *Client) Lookup(ctx context.Context, fixedID string) (anchor.Receipt, bool, error) {
	var body receiptBody
	status, err := c.do(ctx, http.MethodGet, "/v1/anchors/"+url.PathEscape(fixedID), nil, &body)
	if status == http.StatusNotFound {
		return anchor.Receipt{}, false, nil
	}
	if err != nil {
		return anchor.Receipt{}, false, classify(ctx, anchor.ErrorLookup, status, err)
	}
	r, err := toReceipt(body)
	if err != nil {
		return anchor.Receipt{}, false, err
	}
	return r, true, nil
}

func toReceipt(b receiptBody) (anchor.Receipt, error) {
	if b.TxID == "" {
		return anchor.Receipt{}, anchor.NewLedgerError(anchor.ErrorBadData, "gateway receipt is missing tx_id", nil)
	}
	r := anchor.Receipt{TxID: b.TxID, BlockRef: b.BlockRef, FixedID: b.FixedID}
	if b.AnchoredAt != "" {
		t, err := time.Parse(time.RFC3339, b.AnchoredAt)
		if err != nil {
			return anchor.Receipt{}, anchor.NewLedgerError(anchor.ErrorBadData, "gateway receipt has invalid anchored_at", err)
		}
		r.AnchoredAt = t
	}
	return r, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpDo(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, anchor.NewLedgerError(anchor.ErrorBadData, "gateway response is not valid JSON", err)
	}
	return resp.StatusCode, nil
}

func classify(ctx context.Context, category anchor.ErrorCategory, status int, err error) error {
	var le *anchor.LedgerError
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return anchor.NewLedgerError(anchor.ErrorTimeout, "gateway call timed out", err)
	}
	switch {
	case status == http.StatusGatewayTimeout:
		return anchor.NewLedgerError(anchor.ErrorTimeout, "gateway timed out", err)
	case status >= 500, status == 0:
		return anchor.NewLedgerError(anchor.ErrorOutage, "gateway unavailable", err)
	default:
		return anchor.NewLedgerError(category, "gateway rejected request", err)
	}
}
