package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Confirm(t *testing.T) {
	client := StaticClient{Records: map[string]Record{
		"S-1": {HolderID: "S-1", FullName: "Ada  Lovelace", Active: true},
		"S-2": {HolderID: "S-2", FullName: "Charles Babbage", Active: false},
	}}
	checker := NewChecker(client)
	ctx := context.Background()

	tests := []struct {
		name     string
		holderID string
		holder   string
		want     bool
	}{
		{"matching name ignores case and spacing", "S-1", "ada lovelace", true},
		{"name mismatch", "S-1", "Ada Byron", false},
		{"inactive subject", "S-2", "Charles Babbage", false},
		{"unknown subject", "S-9", "Nobody", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker.Confirm(ctx, tt.holderID, tt.holder)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticClient_AcceptUnknown(t *testing.T) {
	ok, err := StaticClient{AcceptUnknown: true}.Confirm(context.Background(), "S-5", "Anyone")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subjects/S-1":
			_ = json.NewEncoder(w).Encode(Record{FullName: "Ada Lovelace", Active: true})
		case "/subjects/S-500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL+"/", time.Second, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	rec, found, err := client.Lookup(ctx, "S-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "S-1", rec.HolderID)

	_, found, err = client.Lookup(ctx, "S-404")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = client.Lookup(ctx, "S-500")
	assert.Error(t, err)
}
