package storage

import (
	"context"
	"time"
)

// Audit actions.
const (
	AuditActionEnqueue = "enqueue"
	AuditActionSend    = "send"
	AuditActionSkip    = "skip"
	AuditActionCleanup = "cleanup"
)

// Audit statuses.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusSkipped = "skipped"
)

// AuditStore defines the interface for the append-only audit log.
type AuditStore interface {
	// AppendAudit records an audit entry. CreatedAt defaults to now.
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// ListAudit returns the most recent audit entries, up to limit.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	// DeleteAuditBefore removes entries created before cutoff.
	DeleteAuditBefore(ctx context.Context, cutoff time.Time, loc *time.Location) (int64, error)
}
