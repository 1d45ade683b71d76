// Package ledger records issued certificates in Postgres. Recording is
// best-effort bookkeeping: a ledger failure never fails an issuance.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	u "certforge/internal/utils"
)

// Entry is one issued certificate.
type Entry struct {
	ID            uuid.UUID
	CertificateID string
	Recipient     string
	Course        string
	Grade         float64
	IssueDate     string
	LocationRef   string
	Delivered     bool
	CreatedAt     time.Time
}

// Ledger writes issuance records to Postgres.
type Ledger struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the certificates table exists.
func Open(cfg u.PostgresConfig) (*Ledger, error) {
	dsn, err := u.PostgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Ledger{db: db}
	if err := l.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS certificates (
		id UUID PRIMARY KEY,
		certificate_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		course TEXT NOT NULL,
		grade DOUBLE PRECISION NOT NULL,
		issue_date TEXT NOT NULL,
		location_ref TEXT NOT NULL,
		delivered BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	return err
}

// Record inserts one issuance row. A zero ID is assigned here.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO certificates
			(id, certificate_id, recipient, course, grade, issue_date, location_ref, delivered)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`,
		e.ID, e.CertificateID, e.Recipient, e.Course, e.Grade, e.IssueDate, e.LocationRef, e.Delivered,
	)
	return err
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
