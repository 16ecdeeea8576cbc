package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// OutboxMessage is one queued outbound email.
type OutboxMessage struct {
	ID                string     `json:"id"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	TargetKey         string     `json:"target_key"`
	PreferredAccount  string     `json:"preferred_account,omitempty"`
	Status            string     `json:"status"`
	AccountUsed       *string    `json:"account_used,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	ErrorCode         *string    `json:"error_code,omitempty"`
	RequestedAt       time.Time  `json:"requested_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	Attempts          int        `json:"attempts"`
}

type EnqueueRequest struct {
	Recipient        string
	Subject          string
	Body             string
	TargetKey        string
	PreferredAccount string
	IdempotencyKey   *string
}

// Enqueue inserts a message into the outbox. With an idempotency key, a
// repeated enqueue returns the existing id instead of a new row.
func (s *Store) Enqueue(ctx context.Context, r EnqueueRequest) (msgID string, already bool, err error) {
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if r.IdempotencyKey != nil && *r.IdempotencyKey != "" {
			var existsID string
			qerr := tx.QueryRow(ctx, `SELECT id FROM outbox_messages WHERE idempotency_key=$1`, *r.IdempotencyKey).Scan(&existsID)
			if qerr == nil {
				msgID = existsID
				already = true
				return nil
			}
			if qerr != pgx.ErrNoRows {
				return qerr
			}
		}
		key := ""
		if r.IdempotencyKey != nil {
			key = *r.IdempotencyKey
		}
		return tx.QueryRow(ctx, `
			INSERT INTO outbox_messages(recipient, subject, body, target_key, preferred_account, status, idempotency_key)
			VALUES($1,$2,$3,$4,$5,'queued',$6)
			RETURNING id
		`, r.Recipient, r.Subject, r.Body, r.TargetKey, r.PreferredAccount, key).Scan(&msgID)
	})
	return msgID, already, err
}

// ClaimQueued moves up to limit messages from queued->sending using SKIP
// LOCKED and returns their ids. Safe for many worker processes sharing the
// table.
func (s *Store) ClaimQueued(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM outbox_messages
			WHERE status='queued' AND send_after <= now()
			ORDER BY requested_at
			LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE outbox_messages SET status='sending', attempts=attempts+1 WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LoadForSend fetches the fields the dispatcher needs plus the attempt count
// for the worker's retry policy.
func (s *Store) LoadForSend(ctx context.Context, id string) (core.SendRequest, int, error) {
	var req core.SendRequest
	var attempts int
	err := s.DB.QueryRow(ctx, `
		SELECT recipient, subject, body, target_key, preferred_account, attempts
		FROM outbox_messages WHERE id=$1
	`, id).Scan(&req.Recipient, &req.Subject, &req.Body, &req.TargetKey, &req.PreferredAccountID, &attempts)
	return req, attempts, err
}

func (s *Store) MarkSent(ctx context.Context, id, accountID, providerID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox_messages
		SET status='sent', account_used=$2, provider_message_id=$3, sent_at=now(), error_code=NULL
		WHERE id=$1
	`, id, accountID, providerID)
	return err
}

func (s *Store) MarkFailedRetry(ctx context.Context, id, errCode string, retryIn time.Duration) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox_messages
		SET status='queued', error_code=$2, send_after=now()+$3::interval
		WHERE id=$1
	`, id, errCode, retryIn.String())
	return err
}

func (s *Store) MarkFailedPermanent(ctx context.Context, id, errCode string) error {
	_, err := s.DB.Exec(ctx, `UPDATE outbox_messages SET status='failed', error_code=$2 WHERE id=$1`, id, errCode)
	return err
}

func (s *Store) GetMessage(ctx context.Context, id string) (OutboxMessage, error) {
	var m OutboxMessage
	err := s.DB.QueryRow(ctx, `
		SELECT id, recipient, subject, body, target_key, preferred_account, status,
		       account_used, provider_message_id, error_code, requested_at, sent_at, attempts
		FROM outbox_messages WHERE id=$1
	`, id).Scan(&m.ID, &m.Recipient, &m.Subject, &m.Body, &m.TargetKey, &m.PreferredAccount,
		&m.Status, &m.AccountUsed, &m.ProviderMessageID, &m.ErrorCode, &m.RequestedAt, &m.SentAt, &m.Attempts)
	return m, err
}

// QueryMessages basic listing for reports.
func (s *Store) QueryMessages(ctx context.Context, status *string, from, to *time.Time, limit, offset int) ([]OutboxMessage, error) {
	q := `SELECT id, recipient, subject, body, target_key, preferred_account, status,
		account_used, provider_message_id, error_code, requested_at, sent_at, attempts
		FROM outbox_messages WHERE 1=1`
	args := []any{}
	idx := 1
	if status != nil {
		q += fmt.Sprintf(" AND status=$%d", idx)
		args = append(args, *status)
		idx++
	}
	if from != nil {
		q += fmt.Sprintf(" AND requested_at >= $%d", idx)
		args = append(args, *from)
		idx++
	}
	if to != nil {
		q += fmt.Sprintf(" AND requested_at < $%d", idx)
		args = append(args, *to)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Subject, &m.Body, &m.TargetKey, &m.PreferredAccount,
			&m.Status, &m.AccountUsed, &m.ProviderMessageID, &m.ErrorCode, &m.RequestedAt, &m.SentAt, &m.Attempts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
