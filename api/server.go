// Package api exposes the sharing and analysis surface over HTTP.
//
// Every handler only ever moves ciphertext, wrapped keys and derived
// insight records; plaintext never crosses this boundary. All routes
// require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	entryvault "github.com/john-matlock-eng/ai-lifestyle-app-sub007"
)

// Config configures the HTTP surface.
type Config struct {
	// Token is the bearer token required on every request. Token issuance
	// and refresh belong to the authentication service, not this core.
	Token string

	// ServiceID is the analysis service principal used for analysis
	// shares created through this API.
	ServiceID string
}

// Server wires the vault and the analysis boundary to the HTTP routes.
type Server struct {
	vault    *entryvault.Vault
	boundary entryvault.AnalysisBoundary
	cfg      Config
	log      zerolog.Logger
}

// NewServer creates the HTTP surface. boundary may be nil, in which case
// analysis shares stay pending until an external processor runs them.
func NewServer(vault *entryvault.Vault, boundary entryvault.AnalysisBoundary, cfg Config, log zerolog.Logger) *Server {
	return &Server{vault: vault, boundary: boundary, cfg: cfg, log: log}
}

// Router builds the chi router with auth and request logging applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.requireBearer)

	r.Route("/ai-analysis", func(r chi.Router) {
		r.Post("/shares", s.createAnalysisShare)
		r.Get("/shares/{id}/status", s.analysisShareStatus)
		r.Delete("/shares/{id}", s.deleteAnalysisShare)
		r.Get("/results/{id}", s.analysisResult)
	})
	r.Post("/shares", s.createShare)
	r.Delete("/shares/{id}", s.deleteShare)

	return r
}

type createAnalysisShareRequest struct {
	EntryIDs        []string `json:"entryIds"`
	AnalysisType    string   `json:"analysisType"`
	RetentionPolicy string   `json:"retentionPolicy"`
}

type analysisShareResponse struct {
	ShareID   string     `json:"shareId"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) createAnalysisShare(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	share, err := s.vault.CreateAnalysisShare(r.Context(), req.EntryIDs,
		req.AnalysisType, entryvault.RetentionPolicy(req.RetentionPolicy), s.cfg.ServiceID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Processing runs out of band; status is observable via polling.
	// Deliberately not the request context: processing outlives the request
	if s.boundary != nil {
		go func(shareID string) {
			if _, runErr := s.vault.RunAnalysis(context.Background(), shareID, s.boundary); runErr != nil {
				s.log.Warn().Str("share_id", shareID).Err(runErr).Msg("analysis processing failed")
			}
		}(share.ID)
	}

	s.writeJSON(w, http.StatusAccepted, analysisShareResponse{
		ShareID:   share.ID,
		Status:    string(share.Status),
		ExpiresAt: share.ExpiresAt,
	})
}

type shareStatusResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

func (s *Server) analysisShareStatus(w http.ResponseWriter, r *http.Request) {
	share, err := s.vault.GetAnalysisShare(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, shareStatusResponse{
		Status:   string(share.Status),
		Progress: share.Progress,
	})
}

func (s *Server) analysisResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.vault.GetAnalysisResult(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) deleteAnalysisShare(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteAnalysisShare(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createShareRequest struct {
	EntryID     string     `json:"entryId"`
	RecipientID string     `json:"recipientId"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type createShareResponse struct {
	GrantID   string     `json:"grantId"`
	EntryID   string     `json:"entryId"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) createShare(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	permissions := make([]entryvault.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		permissions = append(permissions, entryvault.Permission(p))
	}

	grant, err := s.vault.CreateShare(r.Context(), req.EntryID, req.RecipientID, permissions, req.ExpiresAt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createShareResponse{
		GrantID:   grant.ID,
		EntryID:   grant.EntryID,
		ExpiresAt: grant.ExpiresAt,
	})
}

func (s *Server) deleteShare(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.RevokeShare(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entryvault.ErrGrantNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entryvault.ErrGrantRevoked), errors.Is(err, entryvault.ErrGrantExpired):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, entryvault.ErrPrivilegeEscalationDenied):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, entryvault.ErrKeyManagerLocked), errors.Is(err, entryvault.ErrNotInitialized):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, entryvault.ErrQuotaExceeded):
		s.writeError(w, http.StatusInsufficientStorage, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}
