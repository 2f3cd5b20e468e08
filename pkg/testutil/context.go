package testutil

import (
	"context"
	"net/http"
	"time"

	"covenant/pkg/requestcontext"
)

// AsAdmin sets the admin gate headers the ops router expects.
func AsAdmin(req *http.Request, token, adminID string) *http.Request {
	req.Header.Set("X-Admin-Token", token)
	req.Header.Set("X-Admin-ID", adminID)
	return req
}

// ActorContext builds the context a request middleware chain would have
// produced for actorID acting as role at now.
func ActorContext(actorID, role string, now time.Time) context.Context {
	ctx := requestcontext.WithActor(context.Background(), actorID, role)
	ctx = requestcontext.WithTime(ctx, now)
	return requestcontext.WithRequestID(ctx, "req-"+actorID)
}
