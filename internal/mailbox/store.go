// Package mailbox stores locally delivered mail in PostgreSQL and doubles
// as the user directory of the local domains.
package mailbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

type Message struct {
	ID          string    `json:"id"`
	MailID      string    `json:"mail_id"`
	Address     string    `json:"address"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Size        int64     `json:"size"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery("mailbox", "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration("mailbox", "postgres", operation, time.Since(start))
}

func (s *Store) Exists(ctx context.Context, address models.Address) (exists bool, err error) {
	start := time.Now()
	defer func() { observe("exists", start, err) }()

	query := `SELECT EXISTS (SELECT 1 FROM mailbox_users WHERE address = $1)`
	if err = s.db.QueryRowContext(ctx, query, address.Key()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up mailbox %s: %w", address, err)
	}
	return exists, nil
}

func (s *Store) CreateUser(ctx context.Context, address models.Address) (err error) {
	start := time.Now()
	defer func() { observe("create_user", start, err) }()

	_, err = s.db.ExecContext(ctx, `INSERT INTO mailbox_users (address) VALUES ($1)`, address.Key())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("mailbox %s already exists", address))
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	return nil
}

// Deliver stores the mail in the recipient's mailbox. Delivering the same
// mail twice to one mailbox is a no-op so a redelivered mail after a crash
// does not show up twice.
func (s *Store) Deliver(ctx context.Context, recipient models.Address, mail *models.Mail) (err error) {
	start := time.Now()
	defer func() { observe("deliver", start, err) }()

	content := []byte{}
	subject := ""
	if mail.Content != nil {
		content = mail.Content.Bytes()
		subject = mail.Content.Subject()
	}

	query := `
		INSERT INTO mailbox_messages (id, mail_id, address, sender, subject, size, content, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mail_id, address) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(), mail.ID, recipient.Key(), mail.SenderString(),
		subject, int64(len(content)), content, time.Now(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperrors.ErrNotFound.WithCause(err).WithDetail("message", fmt.Sprintf("no mailbox for %s", recipient))
		}
		return fmt.Errorf("failed to deliver to %s: %w", recipient, err)
	}
	return nil
}

// Messages lists the newest messages of a mailbox without their content.
func (s *Store) Messages(ctx context.Context, address models.Address, limit int) (_ []Message, err error) {
	start := time.Now()
	defer func() { observe("list", start, err) }()

	query := `
		SELECT id, mail_id, address, sender, subject, size, delivered_at
		FROM mailbox_messages
		WHERE address = $1
		ORDER BY delivered_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, address.Key(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MailID, &m.Address, &m.Sender, &m.Subject, &m.Size, &m.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
