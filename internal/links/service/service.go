package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"signlink/internal/links/models"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/sentinel"
	"signlink/pkg/requestcontext"
)

// Store is the persistence boundary for secure links.
type Store interface {
	Create(ctx context.Context, link *models.SecureLink) error
	FindByID(ctx context.Context, id string) (*models.SecureLink, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	CountExpired(ctx context.Context, now, createdBefore time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (models.Stats, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.SecureLink, error)
	// ListUnused pages unused links in id order, starting after afterID.
	ListUnused(ctx context.Context, afterID string, limit int) ([]*models.SecureLink, error)
}

// OTPGenerator produces the one-time passcode for a new link.
type OTPGenerator func() (string, error)

// IDGenerator produces link identifiers.
type IDGenerator func() (string, error)

const maxCreateAttempts = 3

// Registry owns secure link creation, lookup and lifecycle.
type Registry struct {
	store Store
	otp   OTPGenerator
	newID IDGenerator
}

type Option func(*Registry)

func WithOTPGenerator(g OTPGenerator) Option {
	return func(r *Registry) { r.otp = g }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) { r.newID = g }
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, otp: RandomOTP, newID: RandomID}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RandomID returns 128 random bits as 32 lowercase hex characters.
func RandomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var otpSpan = big.NewInt(900000)

// RandomOTP draws uniformly from 100000-999999.
func RandomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Create issues a new link for email that expires after ttl.
func (r *Registry) Create(ctx context.Context, email string, ttl time.Duration) (*models.SecureLink, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry must be positive")
	}

	otp, err := r.otp()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate otp")
	}

	now := requestcontext.Now(ctx).UTC()
	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate link id")
		}
		link := &models.SecureLink{
			ID:        id,
			Email:     email,
			OTP:       otp,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = r.store.Create(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store secure link")
		}
		lastErr = err
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeInternal, "could not allocate a unique link id")
}

// Import stores a fully specified link as-is.
func (r *Registry) Import(ctx context.Context, link *models.SecureLink) error {
	if link == nil || link.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "link id is required")
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = link.CreatedAt
	}
	if err := r.store.Create(ctx, link); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "link already exists")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to import secure link")
	}
	return nil
}

// FindByID does not filter on expiry or used state.
func (r *Registry) FindByID(ctx context.Context, id string) (*models.SecureLink, error) {
	link, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "link not found", "failed to load secure link")
	}
	return link, nil
}

func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	_, err := r.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load secure link")
	}
	return true, nil
}

// MarkUsed is idempotent.
func (r *Registry) MarkUsed(ctx context.Context, id string) error {
	if err := r.store.MarkUsed(ctx, id, requestcontext.Now(ctx).UTC()); err != nil {
		return translate(err, "link not found", "failed to mark link used")
	}
	return nil
}

// DeleteExpired removes used or expired links created more than grace ago.
func (r *Registry) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	now := requestcontext.Now(ctx).UTC()
	n, err := r.store.DeleteExpired(ctx, now, now.Add(-grace))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete expired links")
	}
	return n, nil
}

// CountExpired reports what DeleteExpired would remove.
func (r *Registry) CountExpired(ctx context.Context, grace time.Duration) (int64, error) {
	now := requestcontext.Now(ctx).UTC()
	n, err := r.store.CountExpired(ctx, now, now.Add(-grace))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count expired links")
	}
	return n, nil
}

func (r *Registry) Stats(ctx context.Context) (models.Stats, error) {
	st, err := r.store.Stats(ctx, requestcontext.Now(ctx).UTC())
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load link stats")
	}
	return st, nil
}

func (r *Registry) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecureLink, error) {
	links, err := r.store.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list links")
	}
	return links, nil
}

func (r *Registry) ListUnused(ctx context.Context, afterID string, limit int) ([]*models.SecureLink, error) {
	links, err := r.store.ListUnused(ctx, afterID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list unused links")
	}
	return links, nil
}

func translate(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}
