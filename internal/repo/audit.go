package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"clearline/internal/audit"
	"clearline/internal/domain"
)

// AuditSink writes ledger entries to the audit_logs table. It implements
// audit.Sink; duplicate ids are upserted so a requeued entry never conflicts
// with its failed first attempt.
type AuditSink struct {
	DB *sql.DB
}

func (s AuditSink) Persist(ctx context.Context, e audit.Entry) error {
	var details any
	if len(e.Details) > 0 {
		payload, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = string(payload)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO audit_logs(id,ts,user_id,user_name,user_email,user_level,action,resource,resource_id,details_json,requires_review) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET ts=excluded.ts, details_json=excluded.details_json`,
		e.ID, e.Timestamp, e.UserID, nullable(e.UserName), nullable(e.UserEmail), int(e.UserLevel),
		string(e.Action), e.Resource, e.ResourceID, details, e.RequiresReview)
	return err
}

// ListAuditEntries loads every persisted entry in id order, for seeding the
// in-memory ledger at startup.
func (s AuditSink) ListAuditEntries(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,ts,user_id,COALESCE(user_name,''),COALESCE(user_email,''),user_level,action,resource,resource_id,details_json,requires_review FROM audit_logs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var level int
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.UserName, &e.UserEmail, &level,
			&e.Action, &e.Resource, &e.ResourceID, &details, &e.RequiresReview); err != nil {
			return nil, err
		}
		e.UserLevel = domain.PermissionLevel(level)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, err
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
