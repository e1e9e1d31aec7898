package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/inkform/inkform/internal/services/esign/domain/signer"
	"github.com/inkform/inkform/internal/services/esign/storage"
)

const defaultSignerPageSize = 100

// CreateSigner inserts a new signing party record.
func (s *Store) CreateSigner(ctx context.Context, sgn signer.Signer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sgn.ID) == "" {
		return fmt.Errorf("signer id is required")
	}
	if strings.TrimSpace(sgn.EnvelopeID) == "" {
		return fmt.Errorf("envelope id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO signers (id, envelope_id, email, display_name, role, sign_order, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, sgn.ID, sgn.EnvelopeID, sgn.Email, sgn.DisplayName, string(sgn.Role), sgn.Order, string(sgn.Status),
		toMillis(sgn.CreatedAt), toMillis(sgn.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrPreconditionFailed
		}
		return fmt.Errorf("create signer: %w", err)
	}
	return nil
}

const signerColumns = `
id, envelope_id, email, display_name, role, sign_order, status,
signature_id, document_hash, signature_hash, signed_object_key, kms_key_id, algorithm,
consent_text, consent_version, consent_given_at, consent_ip, consent_user_agent, consent_locale,
network_ip, network_user_agent, network_locale,
signed_at, declined_at, decline_reason, created_at, updated_at`

type signerRow interface {
	Scan(dest ...any) error
}

func scanSigner(row signerRow) (signer.Signer, error) {
	var (
		sgn            signer.Signer
		role           string
		status         string
		signatureID    sql.NullString
		documentHash   sql.NullString
		signatureHash  sql.NullString
		signedObject   sql.NullString
		kmsKeyID       sql.NullString
		algorithm      sql.NullString
		consentText    sql.NullString
		consentVersion sql.NullString
		consentGivenAt sql.NullInt64
		consentIP      sql.NullString
		consentUA      sql.NullString
		consentLocale  sql.NullString
		networkIP      sql.NullString
		networkUA      sql.NullString
		networkLocale  sql.NullString
		signedAt       sql.NullInt64
		declinedAt     sql.NullInt64
		declineReason  sql.NullString
		createdAt      int64
		updatedAt      int64
	)
	err := row.Scan(&sgn.ID, &sgn.EnvelopeID, &sgn.Email, &sgn.DisplayName, &role, &sgn.Order, &status,
		&signatureID, &documentHash, &signatureHash, &signedObject, &kmsKeyID, &algorithm,
		&consentText, &consentVersion, &consentGivenAt, &consentIP, &consentUA, &consentLocale,
		&networkIP, &networkUA, &networkLocale,
		&signedAt, &declinedAt, &declineReason, &createdAt, &updatedAt)
	if err != nil {
		return signer.Signer{}, err
	}

	sgn.Role = signer.Role(role)
	sgn.Status = signer.Status(status)
	sgn.SignedAt = fromNullMillis(signedAt)
	sgn.DeclinedAt = fromNullMillis(declinedAt)
	sgn.DeclineReason = declineReason.String
	sgn.CreatedAt = fromMillis(createdAt)
	sgn.UpdatedAt = fromMillis(updatedAt)

	if signatureID.Valid {
		sgn.Artifact = &signer.Artifact{
			SignatureID:     signatureID.String,
			DocumentHash:    documentHash.String,
			SignatureHash:   signatureHash.String,
			SignedObjectKey: signedObject.String,
			KeyID:           kmsKeyID.String,
			Algorithm:       algorithm.String,
		}
	}
	if consentGivenAt.Valid {
		sgn.Consent = &signer.Consent{
			Text:      consentText.String,
			Version:   consentVersion.String,
			GivenAt:   fromMillis(consentGivenAt.Int64),
			IP:        consentIP.String,
			UserAgent: consentUA.String,
			Locale:    consentLocale.String,
		}
	}
	if networkIP.Valid || networkUA.Valid || networkLocale.Valid {
		sgn.Network = &signer.NetworkContext{
			IP:        networkIP.String,
			UserAgent: networkUA.String,
			Locale:    networkLocale.String,
		}
	}
	return sgn, nil
}

// GetSigner loads a signing party by id.
func (s *Store) GetSigner(ctx context.Context, id string) (signer.Signer, error) {
	if err := ctx.Err(); err != nil {
		return signer.Signer{}, err
	}
	if s == nil || s.sqlDB == nil {
		return signer.Signer{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return signer.Signer{}, fmt.Errorf("signer id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT"+signerColumns+" FROM signers WHERE id = ?", id)
	sgn, err := scanSigner(row)
	if err != nil {
		if err == sqlErrNoRows {
			return signer.Signer{}, storage.ErrNotFound
		}
		return signer.Signer{}, fmt.Errorf("get signer: %w", err)
	}
	return sgn, nil
}

// ListSignersByEnvelope returns signers for an envelope ordered by signing
// order then id, with cursor pagination keyed on signer id.
func (s *Store) ListSignersByEnvelope(ctx context.Context, envelopeID string, pageSize int, pageToken string) (storage.SignerPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SignerPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SignerPage{}, fmt.Errorf("storage is not configured")
	}
	envelopeID = strings.TrimSpace(envelopeID)
	if envelopeID == "" {
		return storage.SignerPage{}, fmt.Errorf("envelope id is required")
	}
	if pageSize <= 0 {
		pageSize = defaultSignerPageSize
	}

	query := "SELECT" + signerColumns + " FROM signers WHERE envelope_id = ?"
	args := []any{envelopeID}
	if pageToken != "" {
		query += ` AND (sign_order, id) > (SELECT sign_order, id FROM signers WHERE id = ?)`
		args = append(args, pageToken)
	}
	query += " ORDER BY sign_order, id LIMIT ?"
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.SignerPage{}, fmt.Errorf("list signers: %w", err)
	}
	defer rows.Close()

	var page storage.SignerPage
	for rows.Next() {
		sgn, err := scanSigner(rows)
		if err != nil {
			return storage.SignerPage{}, fmt.Errorf("scan signer row: %w", err)
		}
		page.Signers = append(page.Signers, sgn)
	}
	if err := rows.Err(); err != nil {
		return storage.SignerPage{}, fmt.Errorf("iterate signer rows: %w", err)
	}

	if len(page.Signers) > pageSize {
		page.NextPageToken = page.Signers[pageSize-1].ID
		page.Signers = page.Signers[:pageSize]
	}
	return page, nil
}

// MarkSignerSigned applies the signature artifact guarded by status=pending.
func (s *Store) MarkSignerSigned(ctx context.Context, patch storage.SignerSignedPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(patch.SignerID) == "" {
		return fmt.Errorf("signer id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE signers
SET status = 'signed',
    signature_id = ?, document_hash = ?, signature_hash = ?, signed_object_key = ?,
    kms_key_id = ?, algorithm = ?,
    network_ip = ?, network_user_agent = ?, network_locale = ?,
    signed_at = ?, updated_at = ?
WHERE id = ? AND envelope_id = ? AND status = 'pending'
`, patch.Artifact.SignatureID, patch.Artifact.DocumentHash, patch.Artifact.SignatureHash,
		toNullString(patch.Artifact.SignedObjectKey), patch.Artifact.KeyID, patch.Artifact.Algorithm,
		toNullString(patch.Network.IP), toNullString(patch.Network.UserAgent), toNullString(patch.Network.Locale),
		toMillis(patch.SignedAt), toMillis(patch.SignedAt),
		patch.SignerID, patch.EnvelopeID)
	if err != nil {
		return fmt.Errorf("mark signer signed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark signer signed rows affected: %w", err)
	}
	if affected == 0 {
		return s.resolveGuardFailure(ctx, "signers", patch.SignerID)
	}
	return nil
}

// MarkSignerDeclined records a decline guarded by status=pending.
func (s *Store) MarkSignerDeclined(ctx context.Context, patch storage.SignerDeclinedPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(patch.SignerID) == "" {
		return fmt.Errorf("signer id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE signers
SET status = 'declined',
    decline_reason = ?,
    network_ip = ?, network_user_agent = ?, network_locale = ?,
    declined_at = ?, updated_at = ?
WHERE id = ? AND envelope_id = ? AND status = 'pending'
`, toNullString(patch.Reason),
		toNullString(patch.Network.IP), toNullString(patch.Network.UserAgent), toNullString(patch.Network.Locale),
		toMillis(patch.DeclinedAt), toMillis(patch.DeclinedAt),
		patch.SignerID, patch.EnvelopeID)
	if err != nil {
		return fmt.Errorf("mark signer declined: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark signer declined rows affected: %w", err)
	}
	if affected == 0 {
		return s.resolveGuardFailure(ctx, "signers", patch.SignerID)
	}
	return nil
}

// RecordSignerConsent stores consent fields guarded by status=pending.
func (s *Store) RecordSignerConsent(ctx context.Context, patch storage.SignerConsentPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(patch.SignerID) == "" {
		return fmt.Errorf("signer id is required")
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE signers
SET consent_text = ?, consent_version = ?, consent_given_at = ?,
    consent_ip = ?, consent_user_agent = ?, consent_locale = ?,
    updated_at = ?
WHERE id = ? AND envelope_id = ? AND status = 'pending'
`, patch.Consent.Text, patch.Consent.Version, toMillis(patch.Consent.GivenAt),
		toNullString(patch.Consent.IP), toNullString(patch.Consent.UserAgent), toNullString(patch.Consent.Locale),
		toMillis(patch.Consent.GivenAt),
		patch.SignerID, patch.EnvelopeID)
	if err != nil {
		return fmt.Errorf("record signer consent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record signer consent rows affected: %w", err)
	}
	if affected == 0 {
		return s.resolveGuardFailure(ctx, "signers", patch.SignerID)
	}
	return nil
}
