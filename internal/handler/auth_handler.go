package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"havosec-api/internal/service"
	"havosec-api/internal/util"
)

const maxBodyBytes = 1 << 20

// AuthHandler handles client and admin authentication
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterClientRoutes mounts /api/auth.
func (h *AuthHandler) RegisterClientRoutes(router chi.Router) {
	router.Post("/register", h.Register)
	router.Post("/login", h.Login)

	router.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.authService, service.TokenKindClient, h.logger))
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
	})
}

// RegisterAdminRoutes mounts /api/admin/auth.
func (h *AuthHandler) RegisterAdminRoutes(router chi.Router) {
	router.Post("/login", h.AdminLogin)

	router.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.authService, service.TokenKindAdmin, h.logger))
		r.Get("/me", h.Me)
	})
}

// Register creates a client account
// @Summary Register a client user
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	result, err := h.authService.Register(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Registration failed")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(result, "User registered successfully"))
	h.logger.Info("Client registered via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"))
}

// Login authenticates a client user
// @Summary Client login
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 429 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	result, err := h.authService.ClientLogin(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Login failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(result, "Login successful"))
}

// AdminLogin authenticates an administrator
// @Summary Admin login
// @Tags admin
// @Router /admin/auth/login [post]
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginInput
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, errInvalidBody, "Invalid request body")
		return
	}

	result, err := h.authService.AdminLogin(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Login failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(result, "Login successful"))
}

// Me returns the authenticated account
// @Summary Current user
// @Tags auth
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, service.ErrUnauthorized, "Authentication required")
		return
	}

	var user interface{} = p.Client
	if p.Kind == service.TokenKindAdmin {
		user = p.Admin
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]interface{}{"user": user}, ""))
}

// Logout revokes the presented token
// @Summary Logout
// @Tags auth
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, service.ErrUnauthorized, "Authentication required")
		return
	}
	if err := h.authService.Logout(r.Context(), p); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Logout failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Logged out successfully"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
