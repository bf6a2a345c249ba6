package audit

import (
	"context"
	"errors"
	"time"
)

// Action names a lifecycle event. Values are persisted verbatim.
type Action string

const (
	ActionSecureLinkCreated       Action = "SECURE_LINK_CREATED"
	ActionExternalLinkCreated     Action = "EXTERNAL_API_LINK_CREATED"
	ActionExternalUnauthorized    Action = "EXTERNAL_API_UNAUTHORIZED"
	ActionExternalMissingEmail    Action = "EXTERNAL_API_MISSING_EMAIL"
	ActionEmailSent               Action = "EMAIL_SENT"
	ActionEmailSendFailed         Action = "EMAIL_SEND_FAILED"
	ActionOTPVerifyFailed         Action = "OTP_VERIFY_FAILED"
	ActionOTPVerified             Action = "OTP_VERIFIED_SUCCESS"
	ActionOTPVerifyError          Action = "OTP_VERIFY_ERROR"
	ActionContractSaveFailed      Action = "CONTRACT_SAVE_FAILED"
	ActionContractSigned          Action = "CONTRACT_SIGNED_SAVED"
	ActionContractSaveError       Action = "CONTRACT_SAVE_ERROR"
	ActionPDFDownloaded           Action = "PDF_DOWNLOADED"
	ActionPDFDownloadFailed       Action = "PDF_DOWNLOAD_FAILED"
	ActionPDFDownloadError        Action = "PDF_DOWNLOAD_ERROR"
	ActionLinkMarkedUsed          Action = "LINK_MARKED_USED"
	ActionDataMigrated            Action = "DATA_MIGRATED"
	ActionMigrationCompleted      Action = "MIGRATION_COMPLETED"
	ActionMigrationError          Action = "MIGRATION_ERROR"
	ActionDatabaseCleanup         Action = "DATABASE_CLEANUP"
	ActionAuditLogsCleaned        Action = "AUDIT_LOGS_CLEANED"
)

// ErrWrite marks an audit entry that could not be persisted. It never reaches
// HTTP callers; Recorder logs and counts it.
var ErrWrite = errors.New("audit write failed")

// Entry is one persisted audit row. Details is always the parsed form of the
// stored text.
type Entry struct {
	ID        int64     `json:"id"`
	LinkID    string    `json:"linkId,omitempty"`
	Action    Action    `json:"action"`
	Details   Details   `json:"details"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is what domain code hands to the Recorder. Details may be any
// JSON-serializable value, a string, raw bytes or nil.
type Event struct {
	LinkID  string
	Action  Action
	Details any
}

// Stats summarises the log at query time.
type Stats struct {
	Total         int64 `json:"total"`
	Today         int64 `json:"today"`
	ThisWeek      int64 `json:"thisWeek"`
	UniqueActions int64 `json:"uniqueActions"`
	UniqueLinks   int64 `json:"uniqueLinks"`
}

// DailyCount is one bucket of the daily activity series. Date is YYYY-MM-DD (UTC).
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Appender is the write side used by Recorder.
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
}

// Store is the full log store used by the dashboard and maintenance.
type Store interface {
	Appender
	List(ctx context.Context, limit, offset int) ([]Entry, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	DailyActivity(ctx context.Context, since time.Time) ([]DailyCount, error)
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RepairCorrupted(ctx context.Context) (int64, error)
	DeleteCorrupted(ctx context.Context) (int64, error)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
