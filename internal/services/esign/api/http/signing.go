package httpapi

import (
	"net/http"
	"time"

	"github.com/inkform/inkform/internal/services/esign/app"
)

type consentBody struct {
	Text    string `json:"text"`
	Version string `json:"version"`
}

type completeSigningBody struct {
	EnvelopeID string       `json:"envelope_id"`
	SignerID   string       `json:"signer_id"`
	Grant      string       `json:"grant"`
	DigestHex  string       `json:"digest_sha256"`
	Algorithm  string       `json:"algorithm"`
	Consent    *consentBody `json:"consent,omitempty"`
}

type signingResultBody struct {
	Signed         bool      `json:"signed"`
	SignatureID    string    `json:"signature_id,omitempty"`
	EnvelopeStatus string    `json:"envelope_status,omitempty"`
	SignedAt       time.Time `json:"signed_at,omitempty"`
}

func (h *handler) completeSigning(w http.ResponseWriter, r *http.Request) {
	var body completeSigningBody
	if !decodeBody(w, r, &body) {
		return
	}

	cmd := app.CompleteSigningCommand{
		EnvelopeID: body.EnvelopeID,
		SignerID:   body.SignerID,
		Grant:      body.Grant,
		DigestHex:  body.DigestHex,
		Algorithm:  body.Algorithm,
		Network:    networkContext(r),
	}
	if body.Consent != nil {
		cmd.Consent = &app.ConsentPayload{Text: body.Consent.Text, Version: body.Consent.Version}
	}

	result, err := h.service.CompleteSigningWithToken(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Signed {
		writeFailure(w, result.Failure)
		return
	}
	writeJSON(w, http.StatusOK, signingResultBody{
		Signed:         true,
		SignatureID:    result.SignatureID,
		EnvelopeStatus: string(result.EnvelopeStatus),
		SignedAt:       result.SignedAt,
	})
}

type declineSigningBody struct {
	EnvelopeID string `json:"envelope_id"`
	SignerID   string `json:"signer_id"`
	Grant      string `json:"grant"`
	Reason     string `json:"reason,omitempty"`
}

type declineResultBody struct {
	Declined       bool   `json:"declined"`
	EnvelopeStatus string `json:"envelope_status,omitempty"`
}

func (h *handler) declineSigning(w http.ResponseWriter, r *http.Request) {
	var body declineSigningBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.service.DeclineSigning(r.Context(), app.DeclineSigningCommand{
		EnvelopeID: body.EnvelopeID,
		SignerID:   body.SignerID,
		Grant:      body.Grant,
		Reason:     body.Reason,
		Network:    networkContext(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Declined {
		writeFailure(w, result.Failure)
		return
	}
	writeJSON(w, http.StatusOK, declineResultBody{
		Declined:       true,
		EnvelopeStatus: string(result.EnvelopeStatus),
	})
}

type recordConsentBody struct {
	EnvelopeID string      `json:"envelope_id"`
	SignerID   string      `json:"signer_id"`
	Grant      string      `json:"grant"`
	Consent    consentBody `json:"consent"`
}

func (h *handler) recordConsent(w http.ResponseWriter, r *http.Request) {
	var body recordConsentBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.service.RecordSigningConsent(r.Context(), app.RecordConsentCommand{
		EnvelopeID: body.EnvelopeID,
		SignerID:   body.SignerID,
		Grant:      body.Grant,
		Consent:    app.ConsentPayload{Text: body.Consent.Text, Version: body.Consent.Version},
		Network:    networkContext(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Recorded {
		writeFailure(w, result.Failure)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Recorded bool `json:"recorded"`
	}{Recorded: true})
}

type validateTokenBody struct {
	Grant string `json:"grant"`
}

type tokenValidationBody struct {
	Valid      bool      `json:"valid"`
	EnvelopeID string    `json:"envelope_id,omitempty"`
	SignerID   string    `json:"signer_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (h *handler) validateToken(w http.ResponseWriter, r *http.Request) {
	var body validateTokenBody
	if !decodeBody(w, r, &body) {
		return
	}

	validation, err := h.service.ValidateInvitationToken(r.Context(), app.ValidateTokenCommand{Grant: body.Grant})
	if err != nil {
		writeError(w, err)
		return
	}
	if !validation.Valid {
		writeFailure(w, validation.Failure)
		return
	}
	writeJSON(w, http.StatusOK, tokenValidationBody{
		Valid:      true,
		EnvelopeID: validation.EnvelopeID,
		SignerID:   validation.SignerID,
		Email:      validation.Email,
		ExpiresAt:  validation.ExpiresAt,
	})
}
