// Package api exposes HTTP handlers for the reward ledger service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"example.com/rewards/internal/auth"
	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/completions", h.completions)
	mux.HandleFunc("/v1/progress", h.listProgress)
	mux.HandleFunc("/v1/progress/", h.progressByActivity)
	mux.HandleFunc("/v1/replays/", h.replayUnlock)
	mux.HandleFunc("/v1/wallet", h.wallet)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) completions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:write required")
		return
	}

	var req SubmitCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	attemptKey := r.Header.Get("Idempotency-Key")

	result, replayed, err := h.service.SubmitCompletion(r.Context(), domain.CompletionInput{
		TenantID:         claims.TenantID,
		UserID:           claims.Subject,
		ActivityID:       req.ActivityID,
		AttemptKey:       attemptKey,
		PerformanceScore: req.PerformanceScore,
		DeclaredMaxScore: req.ResolvedMaxScore,
		CorrectCount:     req.CorrectCount,
		LevelsCompleted:  req.LevelsCompleted,
		TotalLevels:      req.TotalLevels,
		IsReplayHint:     req.IsReplayHint,
		QuestionCount:    req.QuestionCount,
		TotalCoinReward:  req.TotalCoinReward,
		TotalXPReward:    req.TotalXPReward,
		Badge:            req.Badge.descriptor(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toCompletionView(*result))
}

func (h *Handler) progressByActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	activityID := strings.TrimPrefix(r.URL.Path, "/v1/progress/")
	if activityID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	rec, err := h.service.GetProgress(r.Context(), claims.TenantID, claims.Subject, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ProgressView{
		ActivityID:     activityID,
		FullyCompleted: rec.FullyCompleted,
		ReplayUnlocked: rec.ReplayUnlocked,
	})
}

func (h *Handler) listProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	// Reading another user's progress is a parent-dashboard privilege and
	// needs its own scope; a plain token only reads its own records.
	userID := claims.Subject
	if requested := r.URL.Query().Get("user_id"); requested != "" && requested != claims.Subject {
		if !claims.HasScope(auth.ScopeProgressReadAny) {
			writeError(w, http.StatusForbidden, "forbidden", "scope progress:read:any required to read another user's progress")
			return
		}
		userID = requested
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListProgress(r.Context(), claims.TenantID, userID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ProgressRecordView, 0, len(records))
	for _, rec := range records {
		items = append(items, toProgressRecordView(rec))
	}

	writeJSON(w, http.StatusOK, ListProgressResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) replayUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/replays/")
	activityID := strings.TrimSuffix(rest, "/unlock")
	if activityID == "" || activityID == rest {
		writeError(w, http.StatusNotFound, "not_found", "unknown replay operation")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWalletSpend) {
		writeError(w, http.StatusForbidden, "forbidden", "scope wallet:spend required")
		return
	}

	unlock, err := h.service.UnlockReplay(r.Context(), claims.TenantID, claims.Subject, activityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UnlockView{
		ActivityID:     unlock.ActivityID,
		ReplayUnlocked: unlock.ReplayUnlocked,
		Cost:           unlock.Cost,
		Balance:        unlock.Balance,
	})
}

func (h *Handler) wallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeProgressRead) && !claims.HasScope(auth.ScopeProgressWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope progress:read required")
		return
	}

	balance, err := h.service.WalletBalance(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// SubmitCompletionRequest is the payload for POST /v1/completions.
type SubmitCompletionRequest struct {
	ActivityID       string        `json:"activity_id"`
	PerformanceScore int64         `json:"performance_score"`
	ResolvedMaxScore int64         `json:"resolved_max_score"`
	CorrectCount     int           `json:"correct_count"`
	LevelsCompleted  int           `json:"levels_completed"`
	TotalLevels      int           `json:"total_levels"`
	IsReplayHint     bool          `json:"is_replay_hint"`
	QuestionCount    int           `json:"question_count"`
	TotalCoinReward  int64         `json:"total_coin_reward"`
	TotalXPReward    int64         `json:"total_xp_reward"`
	Badge            *BadgeRequest `json:"badge,omitempty"`
}

// BadgeRequest carries the badge descriptor with a submission.
type BadgeRequest struct {
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Threshold int64  `json:"threshold,omitempty"`
}

func (b *BadgeRequest) descriptor() *domain.BadgeDescriptor {
	if b == nil {
		return nil
	}
	return &domain.BadgeDescriptor{Name: b.Name, ImageURL: b.ImageURL, Threshold: b.Threshold}
}

// CompletionView is the authoritative outcome returned to the client.
type CompletionView struct {
	ActivityID         string `json:"activity_id"`
	CoinsEarned        int64  `json:"coins_earned"`
	XPEarned           int64  `json:"xp_earned"`
	BadgeEarned        bool   `json:"badge_earned"`
	BadgeAlreadyEarned bool   `json:"badge_already_earned"`
	AllAnswersCorrect  bool   `json:"all_answers_correct"`
	FullyCompleted     bool   `json:"fully_completed"`
	IsReplay           bool   `json:"is_replay"`
	ReplayUnlocked     bool   `json:"replay_unlocked"`
	Balance            int64  `json:"balance"`
}

// ProgressView answers a single-activity progress query.
type ProgressView struct {
	ActivityID     string `json:"activity_id"`
	FullyCompleted bool   `json:"fully_completed"`
	ReplayUnlocked bool   `json:"replay_unlocked"`
}

// ProgressRecordView exposes full details about a progress record.
type ProgressRecordView struct {
	ActivityID        string `json:"activity_id"`
	State             string `json:"state"`
	FullyCompleted    bool   `json:"fully_completed"`
	ReplayUnlocked    bool   `json:"replay_unlocked"`
	CoinsAwardedTotal int64  `json:"coins_awarded_total"`
	BadgeEarned       bool   `json:"badge_earned"`
}

// ListProgressResponse packages list results.
type ListProgressResponse struct {
	Items      []ProgressRecordView `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// UnlockView is the response for a successful replay unlock.
type UnlockView struct {
	ActivityID     string `json:"activity_id"`
	ReplayUnlocked bool   `json:"replay_unlocked"`
	Cost           int64  `json:"cost"`
	Balance        int64  `json:"balance"`
}

func toCompletionView(result domain.CompletionResult) CompletionView {
	return CompletionView{
		ActivityID:         result.ActivityID,
		CoinsEarned:        result.CoinsEarned,
		XPEarned:           result.XPEarned,
		BadgeEarned:        result.BadgeEarned,
		BadgeAlreadyEarned: result.BadgeAlreadyEarned,
		AllAnswersCorrect:  result.AllAnswersCorrect,
		FullyCompleted:     result.FullyCompleted,
		IsReplay:           result.IsReplay,
		ReplayUnlocked:     result.ReplayUnlocked,
		Balance:            result.Balance,
	}
}

func toProgressRecordView(rec domain.ProgressRecord) ProgressRecordView {
	return ProgressRecordView{
		ActivityID:        rec.ActivityID,
		State:             string(rec.State()),
		FullyCompleted:    rec.FullyCompleted,
		ReplayUnlocked:    rec.ReplayUnlocked,
		CoinsAwardedTotal: rec.CoinsAwardedTotal,
		BadgeEarned:       rec.BadgeEarned,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance", "not enough coins for this unlock")
	case errors.Is(err, domain.ErrAlreadyUnlocked):
		writeError(w, http.StatusConflict, "already_unlocked", "replay is already unlocked")
	case errors.Is(err, domain.ErrNotCompleted):
		writeError(w, http.StatusConflict, "not_completed", "activity must be fully completed first")
	case errors.Is(err, domain.ErrUnknownActivity):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
