package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

type EmailRepository struct {
	db *sql.DB
}

func NewEmailRepository(db *sql.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

func (r *EmailRepository) Create(ctx context.Context, email *domain.Email) error {
	attachmentsJSON, err := json.Marshal(emptyIfNil(email.Attachments))
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO emails (
	id, direction, sender, recipient, subject, body, attachments,
	status, error_message, received_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		email.ID, string(email.Direction), email.Sender, email.Recipient, email.Subject, email.Body,
		attachmentsJSON, string(email.Status), email.ErrorMessage, email.ReceivedAt,
		email.CreatedAt, email.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

func (r *EmailRepository) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, direction, sender, recipient, subject, body, attachments,
	status, error_message, received_at, created_at, updated_at
FROM emails
WHERE id = $1
`, id)

	var email domain.Email
	var direction, status string
	var errMessage sql.NullString
	var attachmentsRaw []byte
	var receivedAt sql.NullTime

	err := row.Scan(
		&email.ID, &direction, &email.Sender, &email.Recipient, &email.Subject, &email.Body,
		&attachmentsRaw, &status, &errMessage, &receivedAt, &email.CreatedAt, &email.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get email", fmt.Errorf("email %s", id))
		}
		return nil, fmt.Errorf("scan email: %w", err)
	}

	email.Direction = domain.EmailDirection(direction)
	email.Status = domain.EmailStatus(status)
	email.ErrorMessage = errMessage.String
	if receivedAt.Valid {
		email.ReceivedAt = &receivedAt.Time
	}
	if err := json.Unmarshal(attachmentsRaw, &email.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return &email, nil
}

func (r *EmailRepository) UpdateStatus(ctx context.Context, id string, status domain.EmailStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE emails
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update email status: %w", err)
	}
	return requireRow(res, "email", id)
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
