// Package registry cross-checks certificate holders against the institution's
// subject registry during validation.
package registry

import (
	"context"
	"strings"
)

// Record is a registry entry for one subject (student).
type Record struct {
	HolderID string `json:"holder_id"`
	FullName string `json:"full_name"`
	Active   bool   `json:"active"`
}

// Client queries a subject registry. found is false for unknown subjects.
type Client interface {
	Lookup(ctx context.Context, holderID string) (rec Record, found bool, err error)
}

// Checker confirms holders against a Client.
type Checker struct {
	client Client
}

func NewChecker(client Client) *Checker {
	return &Checker{client: client}
}

// Confirm reports whether holderID is an active subject whose registered name
// matches holderName, ignoring case and repeated whitespace.
func (c *Checker) Confirm(ctx context.Context, holderID, holderName string) (bool, error) {
	rec, found, err := c.client.Lookup(ctx, strings.TrimSpace(holderID))
	if err != nil {
		return false, err
	}
	if !found || !rec.Active {
		return false, nil
	}
	return normalizeName(rec.FullName) == normalizeName(holderName), nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
