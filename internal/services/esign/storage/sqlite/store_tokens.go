package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

// CreateToken inserts a new invitation token record.
func (s *Store) CreateToken(ctx context.Context, tok token.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tok.ID) == "" {
		return fmt.Errorf("token id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO invitation_tokens (id, envelope_id, signer_id, email, status, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, tok.ID, tok.EnvelopeID, tok.SignerID, tok.Email, string(tok.Status),
		toMillis(tok.ExpiresAt), toMillis(tok.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrPreconditionFailed
		}
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// GetToken loads an invitation token by id.
func (s *Store) GetToken(ctx context.Context, id string) (token.Token, error) {
	if err := ctx.Err(); err != nil {
		return token.Token{}, err
	}
	if s == nil || s.sqlDB == nil {
		return token.Token{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return token.Token{}, fmt.Errorf("token id is required")
	}

	var (
		tok        token.Token
		status     string
		redeemedIP sql.NullString
		redeemedUA sql.NullString
		usedAt     sql.NullInt64
		expiresAt  int64
		createdAt  int64
	)
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, envelope_id, signer_id, email, status, expires_at, redeemed_ip, redeemed_user_agent, used_at, created_at
FROM invitation_tokens
WHERE id = ?
`, id)
	err := row.Scan(&tok.ID, &tok.EnvelopeID, &tok.SignerID, &tok.Email, &status,
		&expiresAt, &redeemedIP, &redeemedUA, &usedAt, &createdAt)
	if err != nil {
		if err == sqlErrNoRows {
			return token.Token{}, storage.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("get token: %w", err)
	}

	tok.Status = token.Status(status)
	tok.ExpiresAt = fromMillis(expiresAt)
	tok.RedeemedIP = redeemedIP.String
	tok.RedeemedUserAgent = redeemedUA.String
	tok.UsedAt = fromNullMillis(usedAt)
	tok.CreatedAt = fromMillis(createdAt)
	return tok, nil
}

// ConsumeToken transitions a token active -> used, guarded by status=active.
// The guard is the concurrency control for unauthenticated signing: exactly
// one of any set of concurrent redeemers observes an affected row.
func (s *Store) ConsumeToken(ctx context.Context, id string, redemption storage.TokenRedemption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("token id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitation_tokens
SET status = 'used', redeemed_ip = ?, redeemed_user_agent = ?, used_at = ?
WHERE id = ? AND status = 'active'
`, toNullString(redemption.IP), toNullString(redemption.UserAgent), toMillis(redemption.UsedAt), id)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume token rows affected: %w", err)
	}
	if affected == 0 {
		return s.resolveGuardFailure(ctx, "invitation_tokens", id)
	}
	return nil
}

// RevokeActiveTokensForEnvelope invalidates all outstanding invitations for
// an envelope. Used tokens keep their redemption record.
func (s *Store) RevokeActiveTokensForEnvelope(ctx context.Context, envelopeID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return fmt.Errorf("envelope id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitation_tokens
SET status = 'revoked', used_at = ?
WHERE envelope_id = ? AND status = 'active'
`, toMillis(at), envelopeID)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}
