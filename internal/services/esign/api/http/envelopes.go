package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inkform/inkform/internal/services/esign/app"
	"github.com/inkform/inkform/internal/services/esign/domain/envelope"
	"github.com/inkform/inkform/internal/services/esign/domain/signer"
)

type signerInputBody struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	Order       int    `json:"order,omitempty"`
}

type createEnvelopeBody struct {
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Routing     string            `json:"routing,omitempty"`
	DocumentIDs []string          `json:"document_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Signers     []signerInputBody `json:"signers"`
}

type envelopeBody struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Status      string            `json:"status"`
	Routing     string            `json:"routing"`
	SignerIDs   []string          `json:"signer_ids,omitempty"`
	DocumentIDs []string          `json:"document_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toEnvelopeBody(env envelope.Envelope) envelopeBody {
	return envelopeBody{
		ID:          env.ID,
		OwnerID:     env.OwnerID,
		Title:       env.Title,
		Status:      string(env.Status),
		Routing:     string(env.Routing),
		SignerIDs:   env.SignerIDs,
		DocumentIDs: env.DocumentIDs,
		Metadata:    env.Metadata,
		CreatedAt:   env.CreatedAt,
		UpdatedAt:   env.UpdatedAt,
	}
}

func (h *handler) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var body createEnvelopeBody
	if !decodeBody(w, r, &body) {
		return
	}

	cmd := app.CreateEnvelopeCommand{
		OwnerID:        body.OwnerID,
		Title:          body.Title,
		Routing:        body.Routing,
		DocumentIDs:    body.DocumentIDs,
		Metadata:       body.Metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, input := range body.Signers {
		cmd.Signers = append(cmd.Signers, app.SignerInput{
			Email:       input.Email,
			DisplayName: input.DisplayName,
			Role:        signer.Role(input.Role),
			Order:       input.Order,
		})
	}

	env, err := h.service.CreateEnvelope(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnvelopeBody(env))
}

func (h *handler) getEnvelope(w http.ResponseWriter, r *http.Request) {
	env, err := h.service.GetEnvelope(r.Context(), chi.URLParam(r, "envelopeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelopeBody(env))
}

type signerBody struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	Order       int        `json:"order"`
	Status      string     `json:"status"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
	DeclinedAt  *time.Time `json:"declined_at,omitempty"`
}

type listSignersBody struct {
	Signers       []signerBody `json:"signers"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

func (h *handler) listSigners(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize := 0
	if raw := query.Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
				Code:    "BAD_REQUEST",
				Message: "page_size must be an integer",
			}})
			return
		}
		pageSize = parsed
	}

	list, err := h.service.ListSigners(r.Context(), app.ListSignersCommand{
		EnvelopeID: chi.URLParam(r, "envelopeID"),
		PageSize:   pageSize,
		PageToken:  query.Get("page_token"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := listSignersBody{NextPageToken: list.NextPageToken}
	for _, sgn := range list.Signers {
		body.Signers = append(body.Signers, signerBody{
			ID:          sgn.ID,
			Email:       sgn.Email,
			DisplayName: sgn.DisplayName,
			Role:        string(sgn.Role),
			Order:       sgn.Order,
			Status:      string(sgn.Status),
			SignedAt:    sgn.SignedAt,
			DeclinedAt:  sgn.DeclinedAt,
		})
	}
	writeJSON(w, http.StatusOK, body)
}

type auditEventBody struct {
	ID         string            `json:"id"`
	SignerID   string            `json:"signer_id,omitempty"`
	Type       string            `json:"type"`
	ActorID    string            `json:"actor_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func (h *handler) listAuditTrail(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListAuditTrail(r.Context(), chi.URLParam(r, "envelopeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	body := struct {
		Events []auditEventBody `json:"events"`
	}{}
	for _, event := range events {
		body.Events = append(body.Events, auditEventBody{
			ID:         event.ID,
			SignerID:   event.SignerID,
			Type:       event.Type,
			ActorID:    event.ActorID,
			Metadata:   event.Metadata,
			OccurredAt: event.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, body)
}

type sendEnvelopeBody struct {
	ActorID string `json:"actor_id,omitempty"`
}

type invitationBody struct {
	SignerID  string    `json:"signer_id"`
	Email     string    `json:"email"`
	Grant     string    `json:"grant"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sendResultBody struct {
	EnvelopeStatus string           `json:"envelope_status"`
	Invitations    []invitationBody `json:"invitations"`
}

func (h *handler) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	var body sendEnvelopeBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := h.service.SendEnvelope(r.Context(), app.SendEnvelopeCommand{
		EnvelopeID: chi.URLParam(r, "envelopeID"),
		ActorID:    body.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	response := sendResultBody{EnvelopeStatus: string(result.EnvelopeStatus)}
	for _, invitation := range result.Invitations {
		response.Invitations = append(response.Invitations, invitationBody{
			SignerID:  invitation.SignerID,
			Email:     invitation.Email,
			Grant:     invitation.Grant,
			ExpiresAt: invitation.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

type cancelEnvelopeBody struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *handler) cancelEnvelope(w http.ResponseWriter, r *http.Request) {
	var body cancelEnvelopeBody
	if !decodeBody(w, r, &body) {
		return
	}

	err := h.service.CancelEnvelope(r.Context(), app.CancelEnvelopeCommand{
		EnvelopeID: chi.URLParam(r, "envelopeID"),
		ActorID:    body.ActorID,
		Reason:     body.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
