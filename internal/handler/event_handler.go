package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"havosec-api/internal/metrics"
	"havosec-api/internal/models"
	"havosec-api/internal/service"
	"havosec-api/internal/util"
)

// EventHandler handles single-event lifecycle operations and HTTP ingestion
type EventHandler struct {
	events *service.EventService
	logger *zap.Logger
}

func NewEventHandler(events *service.EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

type assigneeRequest struct {
	AssignedTo string `json:"assignedTo"`
}

type mitigationRequest struct {
	Action string `json:"action"`
}

type ingestRequest struct {
	Events []service.EventInput `json:"events"`
}

// RegisterRoutes mounts /events under the authenticated dashboard router.
func (h *EventHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/", h.GetEvent)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(h.logger, string(models.ClientRoleAdmin), string(models.ClientRoleAnalyst)))
			r.Patch("/status", h.UpdateStatus)
			r.Patch("/assignee", h.Assign)
			r.Post("/mitigations", h.AddMitigation)
		})
	})
}

// GetEvent returns one event
// @Summary Get security event
// @Tags events
// @Param eventID path string true "Event ID"
// @Failure 404 {object} Response
// @Router /dashboard/events/{eventID} [get]
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get event")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(event, ""))
}

// UpdateStatus moves an event through its lifecycle
// @Summary Update event status
// @Tags events
// @Router /dashboard/events/{eventID}/status [patch]
func (h *EventHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	event, err := h.events.UpdateStatus(r.Context(), chi.URLParam(r, "eventID"), req.Status, actorOf(r))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update event status")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(event, "Event status updated"))
}

// Assign sets the responsible operator
// @Summary Assign event
// @Tags events
// @Router /dashboard/events/{eventID}/assignee [patch]
func (h *EventHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assigneeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	event, err := h.events.Assign(r.Context(), chi.URLParam(r, "eventID"), req.AssignedTo)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to assign event")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(event, "Event assigned"))
}

// AddMitigation records an action taken against an event
// @Summary Add mitigation action
// @Tags events
// @Router /dashboard/events/{eventID}/mitigations [post]
func (h *EventHandler) AddMitigation(w http.ResponseWriter, r *http.Request) {
	var req mitigationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	event, err := h.events.AddMitigationAction(r.Context(), chi.URLParam(r, "eventID"), req.Action, actorOf(r))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to record mitigation")
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(event, "Mitigation action recorded"))
}

// Ingest stores a batch of events posted by an administrator
// @Summary Ingest security events
// @Tags admin
// @Accept json
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Router /admin/security-events [post]
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	events, err := h.events.Ingest(r.Context(), req.Events)
	if err != nil {
		status := getStatusCode(err)
		if status == http.StatusBadRequest {
			metrics.EventsRejected("http", "invalid")
		}
		respondWithError(w, h.logger, status, err, "Failed to ingest events")
		return
	}
	metrics.EventsIngested("http", len(events))

	resp := successResponse(events, "Events ingested")
	resp.Meta = &Meta{Total: int64(len(events))}
	respondWithJSON(w, h.logger, http.StatusCreated, resp)
	h.logger.Info("Events ingested via HTTP",
		util.Int("count", len(events)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Ingest"))
}

func actorOf(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		if p.Email != "" {
			return p.Email
		}
		return p.UserID
	}
	return ""
}
