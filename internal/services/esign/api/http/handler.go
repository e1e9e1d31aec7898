// Package httpapi exposes the signing orchestrator as a thin JSON surface.
// It translates requests into typed commands, commands into results, and
// typed errors into HTTP statuses; no business rules live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/services/esign/app"
)

// NewHandler builds the HTTP router over the orchestrator.
func NewHandler(service *app.Service) http.Handler {
	h := &handler{service: service}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/envelopes", func(r chi.Router) {
			r.Post("/", h.createEnvelope)
			r.Get("/{envelopeID}", h.getEnvelope)
			r.Get("/{envelopeID}/signers", h.listSigners)
			r.Get("/{envelopeID}/audit", h.listAuditTrail)
			r.Post("/{envelopeID}/send", h.sendEnvelope)
			r.Post("/{envelopeID}/cancel", h.cancelEnvelope)
		})
		r.Route("/signing", func(r chi.Router) {
			r.Post("/validate", h.validateToken)
			r.Post("/consent", h.recordConsent)
			r.Post("/complete", h.completeSigning)
			r.Post("/decline", h.declineSigning)
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

type handler struct {
	service *app.Service
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

// writeError maps a typed error to its HTTP status. Untyped errors are
// treated as internal and their details withheld.
func writeError(w http.ResponseWriter, err error) {
	var typed *apperrors.Error
	if !errors.As(err, &typed) {
		log.Printf("http: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Code:    string(apperrors.CodeUnknown),
			Message: "internal error",
		}})
		return
	}
	writeJSON(w, typed.Code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:     string(typed.Code),
		Message:  typed.Message,
		Metadata: typed.Metadata,
	}})
}

// writeFailure renders a structured business rejection from a result.
func writeFailure(w http.ResponseWriter, failure *apperrors.Error) {
	writeJSON(w, failure.Code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:     string(failure.Code),
		Message:  failure.Message,
		Metadata: failure.Metadata,
	}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Code:    "BAD_REQUEST",
			Message: "request body is not valid JSON",
		}})
		return false
	}
	return true
}

// networkContext extracts request origin details for the audit record.
func networkContext(r *http.Request) app.NetworkContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return app.NetworkContext{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Locale:    r.Header.Get("Accept-Language"),
	}
}
