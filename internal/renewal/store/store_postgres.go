package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"assetdesk/internal/renewal/models"
	"assetdesk/pkg/domain"
	"assetdesk/pkg/platform/sentinel"
	txcontext "assetdesk/pkg/platform/tx"
)

// PostgresStore persists records in the renewals table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `
	id, sn, compliance_particulars, last_year_details, authority_provider,
	auth_address, law_statute, last_due_date, actual_date_of_compliences,
	actual_cost, frequency, next_due_date, notification_status,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *models.ComplianceRecord) error {
	query := `
		INSERT INTO renewals (
			sn, compliance_particulars, last_year_details, authority_provider,
			auth_address, law_statute, last_due_date, actual_date_of_compliences,
			actual_cost, frequency, next_due_date, notification_status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	var id int64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		nullInt(r.SN),
		r.Particulars,
		nullString(r.LastYearDetails),
		nullString(r.AuthorityProvider),
		nullString(r.AuthorityAddress),
		nullString(r.LawOrStatute),
		r.LastDueDate,
		r.ActualComplianceDate,
		nullFloat(r.ActualCost),
		string(r.Frequency),
		r.NextDueDate,
		string(r.NotificationStatus),
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert renewal: %w", err)
	}
	r.ID = domain.RenewalID(id)
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.RenewalID) (*models.ComplianceRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+selectColumns+` FROM renewals WHERE id = $1`, int64(id))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find renewal: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.ComplianceRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+selectColumns+` FROM renewals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query renewals: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ComplianceRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan renewal: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate renewals: %w", err)
	}
	return out, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, applies mutate and writes
// the result back in the same transaction. It joins a transaction already in
// ctx and opens its own otherwise.
func (s *PostgresStore) Execute(ctx context.Context, id domain.RenewalID, mutate func(*models.ComplianceRecord) error) (*models.ComplianceRecord, error) {
	if _, ok := txcontext.From(ctx); ok {
		return s.execute(ctx, id, mutate)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	r, err := s.execute(txcontext.WithTx(ctx, sqlTx), id, mutate)
	if err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit renewal update: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) execute(ctx context.Context, id domain.RenewalID, mutate func(*models.ComplianceRecord) error) (*models.ComplianceRecord, error) {
	exec := s.execer(ctx)
	row := exec.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM renewals WHERE id = $1 FOR UPDATE`, int64(id))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock renewal: %w", err)
	}

	if err := mutate(r); err != nil {
		return nil, err
	}
	r.ID = id

	query := `
		UPDATE renewals SET
			sn = $2,
			compliance_particulars = $3,
			last_year_details = $4,
			authority_provider = $5,
			auth_address = $6,
			law_statute = $7,
			last_due_date = $8,
			actual_date_of_compliences = $9,
			actual_cost = $10,
			frequency = $11,
			next_due_date = $12,
			notification_status = $13,
			updated_at = $14
		WHERE id = $1
	`
	_, err = exec.ExecContext(ctx, query,
		int64(id),
		nullInt(r.SN),
		r.Particulars,
		nullString(r.LastYearDetails),
		nullString(r.AuthorityProvider),
		nullString(r.AuthorityAddress),
		nullString(r.LawOrStatute),
		r.LastDueDate,
		r.ActualComplianceDate,
		nullFloat(r.ActualCost),
		string(r.Frequency),
		r.NextDueDate,
		string(r.NotificationStatus),
		r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update renewal: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.RenewalID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM renewals WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete renewal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete renewal rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ComplianceRecord, error) {
	var (
		r                 models.ComplianceRecord
		id                int64
		sn                sql.NullInt64
		lastYearDetails   sql.NullString
		authorityProvider sql.NullString
		authorityAddress  sql.NullString
		lawOrStatute      sql.NullString
		actualCost        sql.NullFloat64
		frequency         string
		status            string
	)
	err := row.Scan(
		&id,
		&sn,
		&r.Particulars,
		&lastYearDetails,
		&authorityProvider,
		&authorityAddress,
		&lawOrStatute,
		&r.LastDueDate,
		&r.ActualComplianceDate,
		&actualCost,
		&frequency,
		&r.NextDueDate,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID = domain.RenewalID(id)
	if sn.Valid {
		v := int(sn.Int64)
		r.SN = &v
	}
	r.LastYearDetails = fromNullString(lastYearDetails)
	r.AuthorityProvider = fromNullString(authorityProvider)
	r.AuthorityAddress = fromNullString(authorityAddress)
	r.LawOrStatute = fromNullString(lawOrStatute)
	if actualCost.Valid {
		v := actualCost.Float64
		r.ActualCost = &v
	}
	r.Frequency = models.Frequency(frequency)
	r.NotificationStatus = models.NotificationStatus(status)
	return &r, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
