package testutil

import (
	"net/http"

	"certledger/pkg/domain"
	"certledger/pkg/requestcontext"
)

// WithActor attaches an authenticated actor to the request, the way the auth
// middleware does after validating a bearer token.
func WithActor(req *http.Request, actorID string, role domain.Role) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), domain.Actor{ID: domain.ActorID(actorID), Role: role})
	return req.WithContext(ctx)
}
