package registry

import (
	"context"
	"time"
)

// StaticClient serves a fixed set of records with an optional artificial
// latency. It backs local development when no registry URL is configured;
// with AcceptUnknown every holder is treated as registered.
type StaticClient struct {
	Records       map[string]Record
	Latency       time.Duration
	AcceptUnknown bool
}

func (c StaticClient) Lookup(ctx context.Context, holderID string) (Record, bool, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return Record{}, false, ctx.Err()
		}
	}
	if rec, ok := c.Records[holderID]; ok {
		return rec, true, nil
	}
	return Record{}, false, nil
}

// Confirm short-circuits the name check for AcceptUnknown clients.
func (c StaticClient) Confirm(ctx context.Context, holderID, holderName string) (bool, error) {
	if c.AcceptUnknown {
		if _, ok := c.Records[holderID]; !ok {
			return true, nil
		}
	}
	return NewChecker(c).Confirm(ctx, holderID, holderName)
}
