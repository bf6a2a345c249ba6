package models

import "time"

// SecureLink is a time-boxed, single-use capability bound to one recipient.
// OTP is fixed at creation; Used only ever moves from false to true.
type SecureLink struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	OTP       string    `json:"otp"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsExpired reports whether the link has reached its expiry instant.
func (l *SecureLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IsConsumable reports whether the link can still be signed.
func (l *SecureLink) IsConsumable(now time.Time) bool {
	return !l.Used && !l.IsExpired(now)
}

// MarkUsed flips the used flag. Calling it twice is harmless.
func (l *SecureLink) MarkUsed(at time.Time) {
	if l.Used {
		return
	}
	l.Used = true
	l.UpdatedAt = at
}

// Status is the dashboard label for a link.
func (l *SecureLink) Status(now time.Time) string {
	switch {
	case l.Used:
		return "used"
	case l.IsExpired(now):
		return "expired"
	default:
		return "active"
	}
}

// Stats are computed at query time.
type Stats struct {
	Total   int64 `json:"total"`
	Used    int64 `json:"used"`
	Expired int64 `json:"expired"`
	Active  int64 `json:"active"`
	Today   int64 `json:"today"`
}

// PurgeCandidate reports whether a link may be removed by retention cleanup:
// used or expired, and created before the grace cutoff.
func (l *SecureLink) PurgeCandidate(now, createdBefore time.Time) bool {
	return (l.Used || l.ExpiresAt.Before(now)) && l.CreatedAt.Before(createdBefore)
}
