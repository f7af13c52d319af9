package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"searchsync/internal/domain"
	"searchsync/internal/migrate"
	"searchsync/internal/queue"
	"searchsync/internal/token"
	"searchsync/pkg/platform/sentinel"
)

// QueueService is the producer-facing boundary.
type QueueService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (bool, error)
}

// TokenService is the serving-layer boundary.
type TokenService interface {
	Issue(ctx context.Context, clientID, tenant string, writes []domain.Write) (*token.Token, error)
	Check(ctx context.Context, id string) (token.State, error)
}

// MigrationService is the operator boundary.
type MigrationService interface {
	Start(ctx context.Context, alias string, mapping []byte) (string, error)
	Status(ctx context.Context, id string) (*migrate.Migration, error)
}

// HealthCheck reports dependency liveness for /healthz.
type HealthCheck func(ctx context.Context) error

// Handler is the thin HTTP layer over the three service boundaries.
type Handler struct {
	queue      QueueService
	tokens     TokenService
	migrations MigrationService
	health     HealthCheck
	log        *logrus.Logger
}

func NewHandler(q QueueService, t TokenService, m MigrationService, health HealthCheck, log *logrus.Logger) *Handler {
	return &Handler{queue: q, tokens: t, migrations: m, health: health, log: log}
}

type enqueueRequest struct {
	Tenant         string          `json:"tenant"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Version        int64           `json:"version"`
	IdempotencyKey string          `json:"idempotency_key"`
	Priority       int             `json:"priority"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op, err := domain.ParseOperation(req.Operation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := h.queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Entity: domain.EntityRef{
			Tenant: req.Tenant,
			Type:   domain.EntityType(req.EntityType),
			ID:     req.EntityID,
		},
		Operation:      op,
		Payload:        req.Payload,
		Version:        req.Version,
		IdempotencyKey: req.IdempotencyKey,
		Priority:       req.Priority,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.WithError(err).Error("enqueue")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	status := http.StatusCreated
	if !inserted {
		// Duplicate idempotency key: the entry already exists.
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"inserted": inserted})
}

type issueTokenRequest struct {
	ClientID string `json:"client_id"`
	Tenant   string `json:"tenant"`
	Writes   []struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Version    int64  `json:"version"`
	} `json:"writes"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writes := make([]domain.Write, 0, len(req.Writes))
	for _, wr := range req.Writes {
		writes = append(writes, domain.Write{
			Entity: domain.EntityRef{
				Tenant: req.Tenant,
				Type:   domain.EntityType(wr.EntityType),
				ID:     wr.EntityID,
			},
			Version: wr.Version,
		})
	}

	t, err := h.tokens.Issue(r.Context(), req.ClientID, req.Tenant, writes)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.WithError(err).Error("issue token")
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      t.ID,
		"expires_at": t.ExpiresAt,
	})
}

func (h *Handler) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "token")
	state, err := h.tokens.Check(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Warn("token check")
		writeError(w, http.StatusInternalServerError, "token check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(state)})
}

type startMigrationRequest struct {
	Alias   string          `json:"alias"`
	Mapping json.RawMessage `json:"mapping,omitempty"`
}

func (h *Handler) handleStartMigration(w http.ResponseWriter, r *http.Request) {
	var req startMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.migrations.Start(r.Context(), req.Alias, req.Mapping)
	if err != nil {
		if errors.Is(err, migrate.ErrMigrationInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"migration_id": id})
}

func (h *Handler) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.migrations.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such migration")
			return
		}
		writeError(w, http.StatusInternalServerError, "migration status failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"migration_id": m.ID,
		"alias":        m.Alias,
		"new_index":    m.NewIndex,
		"state":        m.State,
		"error":        m.Error,
		"docs_copied":  m.DocsCopied,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
