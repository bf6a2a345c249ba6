package testutil

import (
	"net/http"
	"time"

	"signlink/pkg/requestcontext"
)

// WithClient attaches the client IP and User-Agent that ClientMetadata
// middleware would normally extract.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}

// AtTime pins the request clock.
func AtTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithAdminKey sets the dashboard/admin credential header.
func WithAdminKey(req *http.Request, key string) *http.Request {
	req.Header.Set("X-Admin-Key", key)
	return req
}

// WithAPIKey sets the external integration credential header.
func WithAPIKey(req *http.Request, key string) *http.Request {
	req.Header.Set("X-API-Key", key)
	return req
}
