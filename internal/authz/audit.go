package authz

import (
	"context"
	"errors"
)

// AuditWriter is the sole creator of audit log entries. Record must be
// called with the TxRepository of the mutation it describes so that the
// store write and its audit row commit or roll back together.
type AuditWriter struct{}

// NewAuditWriter constructs an AuditWriter.
func NewAuditWriter() *AuditWriter {
	return &AuditWriter{}
}

// Record appends one audit entry inside the given transaction.
func (w *AuditWriter) Record(ctx context.Context, tx TxRepository, entry AuditEntry) error {
	if entry.Action == "" {
		return errors.New("authz: audit entry requires an action")
	}
	if entry.ChangedBy == 0 {
		return errors.New("authz: audit entry requires an actor")
	}
	if entry.ChangedAt.IsZero() {
		return errors.New("authz: audit entry requires a timestamp")
	}
	return tx.InsertAuditEntry(ctx, entry)
}

// AuditFilter narrows the audit trail read side. Zero values match
// everything.
type AuditFilter struct {
	UserID  int64
	Action  Action
	Page    int
	PerPage int
}

const (
	auditDefaultPageSize = 20
	auditMaxPageSize     = 100
)

func (f AuditFilter) limit() int {
	if f.PerPage <= 0 {
		return auditDefaultPageSize
	}
	if f.PerPage > auditMaxPageSize {
		return auditMaxPageSize
	}
	return f.PerPage
}

func (f AuditFilter) offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.limit()
}
