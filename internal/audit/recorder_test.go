package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signlink/internal/audit"
	"signlink/internal/audit/store/memory"
	"signlink/internal/platform/metrics"
	"signlink/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, *audit.Entry) error {
	return errors.New("connection refused")
}

type captureSink struct {
	entries []audit.Entry
}

func (c *captureSink) Publish(_ context.Context, e audit.Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestRecorderStampsRequestMetadata(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &captureSink{}
	rec := audit.NewRecorder(store, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), nil, sink)

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithClientMetadata(ctx, "198.51.100.4", "Mozilla/5.0")

	rec.Record(ctx, audit.Event{
		LinkID:  "abc",
		Action:  audit.ActionOTPVerifyFailed,
		Details: map[string]any{"reason": "invalid_otp"},
	})

	entries, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "abc", e.LinkID)
	assert.Equal(t, "198.51.100.4", e.IPAddress)
	assert.Equal(t, "Mozilla/5.0", e.UserAgent)
	assert.True(t, now.Equal(e.CreatedAt))
	assert.Equal(t, map[string]any{"reason": "invalid_otp"}, e.Details.Payload())

	require.Len(t, sink.entries, 1)
	assert.Equal(t, e.ID, sink.entries[0].ID)
}

func TestRecorderSwallowsWriteFailures(t *testing.T) {
	var logs bytes.Buffer
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	sink := &captureSink{}
	rec := audit.NewRecorder(failingStore{}, slog.New(slog.NewTextHandler(&logs, nil)), m, sink)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), audit.Event{Action: audit.ActionContractSigned})
	})
	assert.Contains(t, logs.String(), audit.ErrWrite.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteErrors))
	assert.Empty(t, sink.entries)
}

func TestRecorderSurvivesCancelledContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	rec := audit.NewRecorder(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, audit.Event{Action: audit.ActionPDFDownloaded})

	entries, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
