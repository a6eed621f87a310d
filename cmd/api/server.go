package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealchain/auth"
	"dealchain/conversation"
	"dealchain/notify"
	"dealchain/signing"
	"dealchain/tracking"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type signingService interface {
	Sign(ctx context.Context, params signing.ActionParams) (signing.Case, error)
	Undo(ctx context.Context, params signing.ActionParams) (signing.Case, error)
	StatusOf(ctx context.Context, conversationID string) (signing.Status, error)
	RequestContract(ctx context.Context, params signing.ActionParams) error
	RejectContract(ctx context.Context, params signing.ActionParams) error
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
}

type notificationStore interface {
	ListForRecipient(ctx context.Context, recipientID int64, limit int) ([]notify.Record, error)
}

// Server exposes the signing workflow and auth over plain HTTP. Request
// validation lives here; the services below it only see clean parameters.
type Server struct {
	authService    authService
	signingService signingService
	notifications  notificationStore
	logger         *slog.Logger
}

// Routes wires the handler tree. Signing and notification routes require a
// bearer token; the resolved principal travels via the request context.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/signing/", s.requireAuth(http.HandlerFunc(s.handleSigning)))
	mux.Handle("/api/notifications", s.requireAuth(http.HandlerFunc(s.handleNotifications)))
	return mux
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, principal.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, principal.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type registerResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

type loginResponse struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		ID:    result.User.ID,
		Email: result.User.Email,
	})
}

type signingRequest struct {
	ItemID     int64  `json:"itemId"`
	Role       string `json:"role"`
	DeviceInfo string `json:"deviceInfo"`
}

type caseResponse struct {
	ID             int64   `json:"id"`
	RoomID         string  `json:"roomId"`
	ItemID         int64   `json:"itemId"`
	Status         string  `json:"status"`
	SellerSignedAt *string `json:"sellerSignedAt"`
	BuyerSignedAt  *string `json:"buyerSignedAt"`
}

// handleSigning routes /api/signing/{room}/{action}.
func (s *Server) handleSigning(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/signing/")
	roomID, action, ok := strings.Cut(rest, "/")
	if !ok || roomID == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "expected /api/signing/{room}/{action}")
		return
	}

	if action == "status" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStatus(w, r, roomID)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req signingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := conversation.Role(req.Role)
	if req.ItemID <= 0 || !role.Valid() {
		writeError(w, http.StatusBadRequest, "itemId and role (SELLER|BUYER) are required")
		return
	}

	userID, _ := r.Context().Value(ctxKeyUserID).(int64)
	params := signing.ActionParams{
		ConversationID: roomID,
		ItemID:         req.ItemID,
		Role:           role,
		DeviceInfo:     req.DeviceInfo,
		PrincipalID:    userID,
	}

	switch action {
	case "sign":
		s.respondCase(w, r)(s.signingService.Sign(r.Context(), params))
	case "unsign":
		s.respondCase(w, r)(s.signingService.Undo(r.Context(), params))
	case "contract-request":
		s.respondAction(w, r, s.signingService.RequestContract(r.Context(), params))
	case "contract-reject":
		s.respondAction(w, r, s.signingService.RejectContract(r.Context(), params))
	default:
		writeError(w, http.StatusNotFound, "unknown signing action")
	}
}

type statusResponse struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, roomID string) {
	status, err := s.signingService.StatusOf(r.Context(), roomID)
	switch {
	case errors.Is(err, signing.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, "signing not started for this room")
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RoomID: roomID, Status: string(status)})
}

type notificationResponse struct {
	ID          string  `json:"id"`
	RoomID      string  `json:"roomId"`
	SenderID    int64   `json:"senderId"`
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	AIRationale *string `json:"aiRationale"`
	CreatedAt   string  `json:"createdAt"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	userID, _ := r.Context().Value(ctxKeyUserID).(int64)
	records, err := s.notifications.ListForRecipient(r.Context(), userID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items := make([]notificationResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, notificationResponse{
			ID:          rec.ID,
			RoomID:      rec.ConversationID,
			SenderID:    rec.SenderID,
			Type:        string(rec.Type),
			Message:     rec.Message,
			AIRationale: rec.AIRationale,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// respondCase maps a (Case, error) pair onto the wire.
func (s *Server) respondCase(w http.ResponseWriter, r *http.Request) func(signing.Case, error) {
	return func(c signing.Case, err error) {
		if err != nil {
			s.writeSigningError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, caseResponse{
			ID:             c.ID,
			RoomID:         c.ConversationID,
			ItemID:         c.ItemID,
			Status:         string(c.Status),
			SellerSignedAt: formatSignedAt(c.SellerSignedAt),
			BuyerSignedAt:  formatSignedAt(c.BuyerSignedAt),
		})
	}
}

func (s *Server) respondAction(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeSigningError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSigningError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, signing.ErrNotParty),
		errors.Is(err, tracking.ErrNotParticipant),
		errors.Is(err, tracking.ErrRoleMismatch):
		writeError(w, http.StatusForbidden, "not a party to this conversation")
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if s.logger != nil {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatSignedAt(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
