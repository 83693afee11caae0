package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signlane/internal/engine"
	"signlane/pkg/domain"
)

// Postgres persists one row per aggregate with the signer set and witness as
// JSONB, a bigint version column for the compare-and-swap save, and an
// append-only audit table chained by entry hash. See schema.sql.
type Postgres struct{ DB *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

func pgFailure(err error) error {
	return &domain.ExternalDependencyError{Dependency: "postgres", Err: err}
}

const requestColumns = `request_id,document_title,document_url,status,signers,requires_witness,witness,is_urgent,message,metadata,created_by,due_date,created_at,updated_at,escalation_level,version`

func (s *Postgres) CreateRequest(ctx context.Context, req domain.SignatureRequest, entry domain.AuditEntry) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return pgFailure(err)
	}
	defer tx.Rollback(ctx)

	signers, witness, metadata, err := encodeAggregate(req)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO signature_requests(`+requestColumns+`)
VALUES($1,$2,$3,$4,$5::jsonb,$6,$7::jsonb,$8,$9,$10::jsonb,$11,$12,$13,$14,$15,$16)
`, req.RequestID, req.DocumentTitle, req.DocumentURL, string(req.Status), signers, req.RequiresWitness, witness,
		req.IsUrgent, req.Message, metadata, req.CreatedBy, req.DueDate, req.CreatedAt, req.UpdatedAt,
		req.EscalationLevel, req.Version); err != nil {
		return pgFailure(err)
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgFailure(err)
	}
	return nil
}

func (s *Postgres) GetRequest(ctx context.Context, requestID string) (domain.SignatureRequest, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE request_id=$1`, requestID)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SignatureRequest{}, &domain.NotFoundError{Kind: "request", ID: requestID}
		}
		return domain.SignatureRequest{}, pgFailure(err)
	}
	return req, nil
}

func (s *Postgres) SaveRequest(ctx context.Context, req domain.SignatureRequest, expectedVersion int64, entry *domain.AuditEntry, reminder *domain.Reminder) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return pgFailure(err)
	}
	defer tx.Rollback(ctx)

	signers, witness, metadata, err := encodeAggregate(req)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE signature_requests SET
  status=$2, signers=$3::jsonb, witness=$4::jsonb, message=$5, metadata=$6::jsonb,
  due_date=$7, updated_at=$8, escalation_level=$9, version=$10
WHERE request_id=$1 AND version=$11
`, req.RequestID, string(req.Status), signers, witness, req.Message, metadata,
		req.DueDate, req.UpdatedAt, req.EscalationLevel, req.Version, expectedVersion)
	if err != nil {
		return pgFailure(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM signature_requests WHERE request_id=$1)`, req.RequestID).Scan(&exists); err != nil {
			return pgFailure(err)
		}
		if !exists {
			return &domain.NotFoundError{Kind: "request", ID: req.RequestID}
		}
		return &domain.ConcurrencyConflictError{RequestID: req.RequestID, ExpectedVersion: expectedVersion}
	}
	if entry != nil {
		if err := appendAudit(ctx, tx, *entry); err != nil {
			return err
		}
	}
	if reminder != nil {
		if _, err := tx.Exec(ctx, `
INSERT INTO signature_reminders(reminder_id,request_id,escalation_level,recipients,status,created_at,updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7)
`, reminder.ReminderID, reminder.RequestID, reminder.EscalationLevel, reminder.Recipients,
			string(reminder.Status), reminder.CreatedAt, reminder.UpdatedAt); err != nil {
			return pgFailure(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return pgFailure(err)
	}
	return nil
}

// appendAudit seals the entry against the latest chain hash inside the open
// transaction, so the chain order matches commit order.
func appendAudit(ctx context.Context, tx pgx.Tx, entry domain.AuditEntry) error {
	var prev string
	err := tx.QueryRow(ctx, `SELECT entry_hash FROM signature_audit_log WHERE request_id=$1 ORDER BY seq DESC LIMIT 1`, entry.RequestID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return pgFailure(err)
	}
	sealed, err := domain.SealEntry(entry, prev)
	if err != nil {
		return err
	}
	details, err := json.Marshal(sealed.Details)
	if err != nil {
		return pgFailure(err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO signature_audit_log(entry_id,request_id,action,user_id,user_name,user_email,details,ip_address,user_agent,ts,prev_hash,entry_hash)
VALUES($1,$2,$3,$4,$5,$6,$7::jsonb,$8,$9,$10,$11,$12)
`, sealed.EntryID, sealed.RequestID, string(sealed.Action), sealed.UserID, sealed.UserName, sealed.UserEmail,
		string(details), sealed.IPAddress, sealed.UserAgent, sealed.Timestamp, sealed.PrevHash, sealed.EntryHash); err != nil {
		return pgFailure(err)
	}
	return nil
}

func (s *Postgres) ListAudit(ctx context.Context, requestID string) ([]domain.AuditEntry, error) {
	rows, err := s.DB.Query(ctx, `
SELECT entry_id,request_id,action,user_id,user_name,user_email,details,ip_address,user_agent,ts,prev_hash,entry_hash
FROM signature_audit_log WHERE request_id=$1 ORDER BY seq ASC
`, requestID)
	if err != nil {
		return nil, pgFailure(err)
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		var details []byte
		if err := rows.Scan(&e.EntryID, &e.RequestID, &action, &e.UserID, &e.UserName, &e.UserEmail, &details, &e.IPAddress, &e.UserAgent, &e.Timestamp, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, pgFailure(err)
		}
		e.Action = domain.AuditAction(action)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) ListOpen(ctx context.Context) ([]domain.SignatureRequest, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+requestColumns+` FROM signature_requests WHERE status IN ('pending','in_progress') ORDER BY created_at ASC`)
	if err != nil {
		return nil, pgFailure(err)
	}
	defer rows.Close()
	var out []domain.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, pgFailure(err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Postgres) ListRequests(ctx context.Context, f engine.Filter) (engine.Page, error) {
	where, args := buildFilterWhere(f)
	return s.page(ctx, where, args, f.Limit, f.Offset)
}

func (s *Postgres) SearchRequests(ctx context.Context, query string, limit, offset int) (engine.Page, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return s.page(ctx, "", nil, limit, offset)
	}
	where := `WHERE document_title ILIKE $1 OR message ILIKE $1 OR EXISTS (
  SELECT 1 FROM jsonb_array_elements(signers) sg
  WHERE sg->>'name' ILIKE $1 OR sg->>'email' ILIKE $1)`
	return s.page(ctx, where, []any{"%" + q + "%"}, limit, offset)
}

func (s *Postgres) page(ctx context.Context, where string, args []any, limit, offset int) (engine.Page, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	page := engine.Page{
		Requests: []domain.SignatureRequest{},
		Facets:   engine.Facets{Status: map[string]int{}, SignerRoles: map[string]int{}},
	}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM signature_requests `+where, args...).Scan(&page.Total); err != nil {
		return engine.Page{}, pgFailure(err)
	}

	n := len(args)
	rows, err := s.DB.Query(ctx, fmt.Sprintf(`SELECT `+requestColumns+` FROM signature_requests %s ORDER BY created_at DESC, request_id ASC LIMIT $%d OFFSET $%d`, where, n+1, n+2),
		append(append([]any{}, args...), limit, offset)...)
	if err != nil {
		return engine.Page{}, pgFailure(err)
	}
	defer rows.Close()
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return engine.Page{}, pgFailure(err)
		}
		page.Requests = append(page.Requests, req)
	}
	if err := rows.Err(); err != nil {
		return engine.Page{}, pgFailure(err)
	}

	if err := s.facets(ctx, where, args, &page.Facets); err != nil {
		return engine.Page{}, err
	}
	return page, nil
}

func (s *Postgres) facets(ctx context.Context, where string, args []any, out *engine.Facets) error {
	rows, err := s.DB.Query(ctx, `SELECT status, count(*) FROM signature_requests `+where+` GROUP BY status`, args...)
	if err != nil {
		return pgFailure(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return pgFailure(err)
		}
		out.Status[status] = n
	}
	if err := rows.Err(); err != nil {
		return pgFailure(err)
	}

	roleRows, err := s.DB.Query(ctx, `
SELECT sg->>'role', count(*)
FROM signature_requests, jsonb_array_elements(signers) sg `+where+`
GROUP BY 1`, args...)
	if err != nil {
		return pgFailure(err)
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var role string
		var n int
		if err := roleRows.Scan(&role, &n); err != nil {
			return pgFailure(err)
		}
		out.SignerRoles[role] = n
	}
	if err := roleRows.Err(); err != nil {
		return pgFailure(err)
	}

	if err := s.DB.QueryRow(ctx, `
SELECT count(*) FILTER (WHERE is_urgent), count(*) FILTER (WHERE requires_witness)
FROM signature_requests `+where, args...).Scan(&out.Urgent, &out.RequiresWitness); err != nil {
		return pgFailure(err)
	}
	return nil
}

func (s *Postgres) GetReminder(ctx context.Context, reminderID string) (domain.Reminder, error) {
	var rem domain.Reminder
	var status string
	err := s.DB.QueryRow(ctx, `
SELECT reminder_id,request_id,escalation_level,recipients,status,created_at,updated_at
FROM signature_reminders WHERE reminder_id=$1
`, reminderID).Scan(&rem.ReminderID, &rem.RequestID, &rem.EscalationLevel, &rem.Recipients, &status, &rem.CreatedAt, &rem.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reminder{}, &domain.NotFoundError{Kind: "reminder", ID: reminderID}
		}
		return domain.Reminder{}, pgFailure(err)
	}
	rem.Status = domain.ReminderStatus(status)
	return rem, nil
}

func (s *Postgres) SetReminderStatus(ctx context.Context, reminderID string, status domain.ReminderStatus, at time.Time) error {
	tag, err := s.DB.Exec(ctx, `UPDATE signature_reminders SET status=$2, updated_at=$3 WHERE reminder_id=$1`, reminderID, string(status), at)
	if err != nil {
		return pgFailure(err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "reminder", ID: reminderID}
	}
	return nil
}

func encodeAggregate(req domain.SignatureRequest) (signers, witness, metadata []byte, err error) {
	signers, err = json.Marshal(req.Signers)
	if err != nil {
		return nil, nil, nil, pgFailure(err)
	}
	witness, err = json.Marshal(req.Witness)
	if err != nil {
		return nil, nil, nil, pgFailure(err)
	}
	metadata, err = json.Marshal(req.Metadata)
	if err != nil {
		return nil, nil, nil, pgFailure(err)
	}
	return signers, witness, metadata, nil
}

func scanRequest(row pgx.Row) (domain.SignatureRequest, error) {
	var req domain.SignatureRequest
	var status string
	var signers, witness, metadata []byte
	if err := row.Scan(&req.RequestID, &req.DocumentTitle, &req.DocumentURL, &status, &signers,
		&req.RequiresWitness, &witness, &req.IsUrgent, &req.Message, &metadata, &req.CreatedBy,
		&req.DueDate, &req.CreatedAt, &req.UpdatedAt, &req.EscalationLevel, &req.Version); err != nil {
		return domain.SignatureRequest{}, err
	}
	req.Status = domain.RequestStatus(status)
	if err := json.Unmarshal(signers, &req.Signers); err != nil {
		return domain.SignatureRequest{}, err
	}
	if len(witness) > 0 && string(witness) != "null" {
		req.Witness = &domain.Witness{}
		if err := json.Unmarshal(witness, req.Witness); err != nil {
			return domain.SignatureRequest{}, err
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &req.Metadata); err != nil {
			return domain.SignatureRequest{}, err
		}
	}
	return req, nil
}

func buildFilterWhere(f engine.Filter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if f.SignerEmail != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM jsonb_array_elements(signers) sg WHERE lower(sg->>'email') = lower(`+arg(f.SignerEmail)+`))`)
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "created_at > "+arg(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "created_at < "+arg(*f.CreatedBefore))
	}
	if f.IsUrgent != nil {
		conds = append(conds, "is_urgent = "+arg(*f.IsUrgent))
	}
	if f.RequiresWitness != nil {
		conds = append(conds, "requires_witness = "+arg(*f.RequiresWitness))
	}
	if f.CreatedBy != "" {
		conds = append(conds, "created_by = "+arg(f.CreatedBy))
	}
	if f.DocumentTitle != "" {
		conds = append(conds, "document_title ILIKE "+arg("%"+f.DocumentTitle+"%"))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
