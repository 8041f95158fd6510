package records

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStore reads records from a SQL database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens the database, applies migrations and returns a store.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var dialect string
	switch driver {
	case DriverSQLite:
		dialect = "sqlite3"
	case DriverPostgres:
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// in-memory databases exist per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate records schema: %w", err)
	}

	slog.Info("[Records] SQL store ready", "driver", driver)
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// PatientByPhone implements Service.
func (s *SQLStore) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	p := &Patient{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, date_of_birth FROM patients WHERE phone = $1`, phone,
	).Scan(&p.ID, &p.Name, &p.Phone, &p.DateOfBirth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query patient: %w", err)
	}
	return p, nil
}

// Appointments implements Service.
func (s *SQLStore) Appointments(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, date, time, doctor, location, type FROM appointments WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.PatientID, &a.Date, &a.Time, &a.Doctor, &a.Location, &a.Type); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LabResults implements Service.
func (s *SQLStore) LabResults(ctx context.Context, patientID string) ([]LabResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, test_name, date, status, notes FROM lab_results WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query lab results: %w", err)
	}
	defer rows.Close()

	out := []LabResult{}
	for rows.Next() {
		var l LabResult
		if err := rows.Scan(&l.PatientID, &l.TestName, &l.Date, &l.Status, &l.Notes); err != nil {
			return nil, fmt.Errorf("scan lab result: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Billing implements Service.
func (s *SQLStore) Billing(ctx context.Context, patientID string) ([]Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, invoice_number, amount, due_date, description, status FROM invoices WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	out := []Invoice{}
	for rows.Next() {
		var i Invoice
		if err := rows.Scan(&i.PatientID, &i.InvoiceNumber, &i.Amount, &i.DueDate, &i.Description, &i.Status); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
