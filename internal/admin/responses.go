package admin

import "signlink/internal/maintenance"

// cleanupRequest is the optional body of POST /admin/cleanup.
// Zero values fall back to the configured retention.
type cleanupRequest struct {
	DryRun        bool `json:"dryRun"`
	KeepAuditDays int  `json:"keepAuditDays"`
	GraceDays     int  `json:"graceDays"`
}

// CleanupResponse is the HTTP response DTO for a cleanup run.
type CleanupResponse struct {
	*maintenance.CleanupResult
	Message string `json:"message"`
}

func cleanupMessage(res *maintenance.CleanupResult) string {
	if res.DryRun {
		return "Dry run completed - no rows were changed"
	}
	return "Database cleanup completed successfully"
}
