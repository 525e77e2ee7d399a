package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"clearline/internal/domain"
)

// Repo persists shipments, workflow steps and documents in SQLite.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const shipmentCols = `id,shipment_number,COALESCE(principal,''),COALESCE(brand,''),COALESCE(lc_number,''),invoice_amount_omr,eta,eta_edit_count,status,current_step_number,days_post_eta,risk_level,demurrage_omr,created_by,created_at,updated_at`

func scanShipment(scan func(...any) error) (domain.Shipment, error) {
	var s domain.Shipment
	err := scan(&s.ID, &s.ShipmentNumber, &s.Principal, &s.Brand, &s.LCNumber, &s.InvoiceAmountOMR,
		&s.ETA, &s.ETAEditCount, &s.Status, &s.CurrentStepNumber, &s.DaysPostEta, &s.RiskLevel,
		&s.DemurrageOMR, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertShipment(ctx context.Context, s domain.Shipment, steps []domain.StepInstance) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO shipments(id,shipment_number,principal,brand,lc_number,invoice_amount_omr,eta,eta_edit_count,status,current_step_number,days_post_eta,risk_level,demurrage_omr,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ShipmentNumber, nullable(s.Principal), nullable(s.Brand), nullable(s.LCNumber), s.InvoiceAmountOMR,
		s.ETA, s.ETAEditCount, s.Status, s.CurrentStepNumber, s.DaysPostEta, s.RiskLevel,
		s.DemurrageOMR, s.CreatedBy, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return err
	}
	for _, st := range steps {
		if err := insertStep(ctx, tx, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) LoadShipment(ctx context.Context, id string) (domain.Shipment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+shipmentCols+` FROM shipments WHERE id=?`, id)
	return scanShipment(row.Scan)
}

func (r Repo) SaveShipment(ctx context.Context, s domain.Shipment) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE shipments SET shipment_number=?, principal=?, brand=?, lc_number=?, invoice_amount_omr=?, eta=?, eta_edit_count=?, status=?, current_step_number=?, days_post_eta=?, risk_level=?, demurrage_omr=?, updated_at=? WHERE id=?`,
		s.ShipmentNumber, nullable(s.Principal), nullable(s.Brand), nullable(s.LCNumber), s.InvoiceAmountOMR,
		s.ETA, s.ETAEditCount, s.Status, s.CurrentStepNumber, s.DaysPostEta, s.RiskLevel, s.DemurrageOMR, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteShipment(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM shipments WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListShipments(ctx context.Context) ([]domain.Shipment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipments ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const stepCols = `shipment_id,step_number,sequence,name,department,target_date,actual_date,status,is_critical,is_optional,COALESCE(assigned_users,''),COALESCE(notes,''),COALESCE(blocked_reason,''),updated_at`

func insertStep(ctx context.Context, tx *sql.Tx, st domain.StepInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_steps(shipment_id,step_number,sequence,name,department,target_date,actual_date,status,is_critical,is_optional,assigned_users,notes,blocked_reason,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.ShipmentID, st.StepNumber, st.Sequence, st.Name, st.Department, st.TargetDate,
		nullableStringPtr(st.ActualDate), st.Status, st.IsCritical, st.IsOptional,
		nullable(joinUsers(st.AssignedUsers)), nullable(st.Notes), nullable(st.BlockedReason), st.UpdatedAt)
	return err
}

func (r Repo) LoadStepInstances(ctx context.Context, shipmentID string) ([]domain.StepInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stepCols+` FROM workflow_steps WHERE shipment_id=? ORDER BY sequence ASC`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StepInstance
	for rows.Next() {
		var st domain.StepInstance
		var actual sql.NullString
		var users string
		if err := rows.Scan(&st.ShipmentID, &st.StepNumber, &st.Sequence, &st.Name, &st.Department,
			&st.TargetDate, &actual, &st.Status, &st.IsCritical, &st.IsOptional,
			&users, &st.Notes, &st.BlockedReason, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if actual.Valid {
			st.ActualDate = &actual.String
		}
		st.AssignedUsers = splitUsers(users)
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) SaveStepInstance(ctx context.Context, st domain.StepInstance) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflow_steps SET target_date=?, actual_date=?, status=?, assigned_users=?, notes=?, blocked_reason=?, updated_at=? WHERE shipment_id=? AND step_number=?`,
		st.TargetDate, nullableStringPtr(st.ActualDate), st.Status,
		nullable(joinUsers(st.AssignedUsers)), nullable(st.Notes), nullable(st.BlockedReason),
		st.UpdatedAt, st.ShipmentID, st.StepNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertDocument(ctx context.Context, d domain.Document) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO documents(id,shipment_id,step_number,filename,uploaded_by,uploaded_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.ShipmentID, nullable(d.StepNumber), d.Filename, d.UploadedBy, d.UploadedAt)
	return err
}

func (r Repo) LoadDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	err := r.DB.QueryRowContext(ctx, `SELECT id,shipment_id,COALESCE(step_number,''),filename,uploaded_by,uploaded_at FROM documents WHERE id=?`, id).
		Scan(&d.ID, &d.ShipmentID, &d.StepNumber, &d.Filename, &d.UploadedBy, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListDocuments(ctx context.Context, shipmentID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,shipment_id,COALESCE(step_number,''),filename,uploaded_by,uploaded_at FROM documents WHERE shipment_id=? ORDER BY uploaded_at DESC, id DESC`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.ShipmentID, &d.StepNumber, &d.Filename, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func joinUsers(users []string) string {
	return strings.Join(users, ",")
}

func splitUsers(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
