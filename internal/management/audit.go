package management

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailflow/pkg/migrations"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the audit log schema up to date.
func Migrate(db *sql.DB) error {
	return migrations.Postgres(db, migrationFiles, "migrations", "management_schema_migrations")
}

const (
	AuditActionSubmit    = "submit"
	AuditActionDelete    = "delete"
	AuditActionReprocess = "reprocess"
	AuditActionReload    = "reload"
)

type AuditLogger struct {
	db *sql.DB
}

func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

func (a *AuditLogger) Record(ctx context.Context, entry AuditLogEntry) error {
	query := `
		INSERT INTO management_audit_logs (id, action, target, details, changed_by, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	id := uuid.New().String()
	if entry.ID != "" {
		id = entry.ID
	}

	var details interface{}
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = raw
	}

	var ipAddress *string
	if entry.IPAddress != "" {
		ipAddress = &entry.IPAddress
	}

	timestamp := time.Now()
	if !entry.Timestamp.IsZero() {
		timestamp = entry.Timestamp
	}

	_, err := a.db.ExecContext(ctx, query,
		id, entry.Action, entry.Target, details,
		entry.ChangedBy, ipAddress, timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}

	return nil
}

func (a *AuditLogger) List(ctx context.Context, action string, limit int) ([]AuditLog, error) {
	query := `
		SELECT id, action, target, details, changed_by, ip_address, timestamp
		FROM management_audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			log       AuditLog
			details   []byte
			ipAddress sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.Action, &log.Target, &details, &log.ChangedBy, &ipAddress, &log.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &log.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		log.IPAddress = ipAddress.String
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

type AuditLogEntry struct {
	ID        string
	Action    string
	Target    string
	Details   map[string]interface{}
	ChangedBy string
	IPAddress string
	Timestamp time.Time
}
