package workflow

import (
	"strconv"

	"clearline/internal/audit"
	"clearline/internal/domain"
	"clearline/internal/perm"
)

// GetAuditLogs queries the committed ledger. Viewing is never denied, but
// the lookup itself lands in the ledger.
func (e *Engine) GetAuditLogs(u domain.User, f audit.Filters) []audit.Entry {
	entries := e.Ledger.Query(f)
	e.record(u, audit.ActionView, perm.CapView, "audit_log", "", nil)
	return entries
}

// GetResourceAuditTrail returns the full change history of one resource,
// newest first.
func (e *Engine) GetResourceAuditTrail(u domain.User, resource, resourceID string) []audit.Entry {
	entries := e.Ledger.TrailFor(resource, resourceID)
	e.record(u, audit.ActionView, perm.CapView, resource, resourceID, nil)
	return entries
}

// ExportAuditLogs renders matching entries as delimited text and records
// the export.
func (e *Engine) ExportAuditLogs(u domain.User, f audit.Filters, delimiter rune) (string, error) {
	if err := e.authorize(u, perm.CapExport, ""); err != nil {
		return "", err
	}
	entries := e.Ledger.Query(f)
	out, err := audit.ToDelimitedText(entries, delimiter)
	if err != nil {
		return "", err
	}
	e.record(u, audit.ActionExport, perm.CapExport, "audit_log", "", []audit.FieldChange{
		{Field: "rows", New: strconv.Itoa(len(entries))},
	})
	return out, nil
}
