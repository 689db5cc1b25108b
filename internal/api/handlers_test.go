package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/auth"
	"example.com/rewards/internal/domain"
)

type stubRepo struct {
	progress map[string]*domain.ProgressRecord
	attempts map[string]domain.CompletionResult
	balance  int64
	unlocked bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		progress: make(map[string]*domain.ProgressRecord),
		attempts: make(map[string]domain.CompletionResult),
	}
}

func (s *stubRepo) key(tenantID, userID, activityID string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, userID, activityID)
}

func (s *stubRepo) FindAttempt(_ context.Context, tenantID, userID, activityID, attemptKey string) (*domain.CompletionResult, error) {
	if result, ok := s.attempts[s.key(tenantID, userID, activityID)+"/"+attemptKey]; ok {
		out := result
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetProgress(_ context.Context, tenantID, userID, activityID string) (*domain.ProgressRecord, error) {
	if rec, ok := s.progress[s.key(tenantID, userID, activityID)]; ok {
		out := *rec
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) RecordCompletion(_ context.Context, rec domain.ProgressRecord, attemptKey string, result domain.CompletionResult) (int64, error) {
	s.progress[s.key(rec.TenantID, rec.UserID, rec.ActivityID)] = &rec
	s.balance += result.CoinsEarned
	result.Balance = s.balance
	s.attempts[s.key(rec.TenantID, rec.UserID, rec.ActivityID)+"/"+attemptKey] = result
	return s.balance, nil
}

func (s *stubRepo) UnlockReplay(_ context.Context, tenantID, userID, activityID string, cost int64) (int64, error) {
	rec, ok := s.progress[s.key(tenantID, userID, activityID)]
	if !ok || !rec.FullyCompleted {
		return 0, domain.ErrNotCompleted
	}
	if rec.ReplayUnlocked {
		return 0, domain.ErrAlreadyUnlocked
	}
	if s.balance < cost {
		return 0, domain.ErrInsufficientBalance
	}
	s.balance -= cost
	rec.ReplayUnlocked = true
	return s.balance, nil
}

func (s *stubRepo) ListProgress(_ context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.ProgressRecord, *domain.Cursor, error) {
	var out []domain.ProgressRecord
	for _, rec := range s.progress {
		if rec.TenantID == tenantID && rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		return out, &domain.Cursor{UpdatedAt: last.UpdatedAt, ActivityID: last.ActivityID}, nil
	}
	return out, nil, nil
}

func (s *stubRepo) WalletBalance(_ context.Context, tenantID, userID string) (int64, error) {
	return s.balance, nil
}

type stubOrdinals map[string]int

func (s stubOrdinals) Ordinal(activityID string) (int, bool) {
	ordinal, ok := s[activityID]
	return ordinal, ok
}

func testClaims(scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	return &auth.Claims{
		Subject:   "child-1",
		TenantID:  "tenant-1",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func doRequest(t *testing.T, handler *Handler, method, target string, body any, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	req.Header.Set("Idempotency-Key", "attempt-1")

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)
	return recorder
}

func submitBody(score int64) SubmitCompletionRequest {
	return SubmitCompletionRequest{
		ActivityID:       "counting-1",
		PerformanceScore: score,
		ResolvedMaxScore: 5,
		LevelsCompleted:  1,
		TotalLevels:      1,
		QuestionCount:    5,
		TotalCoinReward:  5,
		TotalXPReward:    10,
		Badge:            &BadgeRequest{Name: "Counting Star"},
	}
}

func TestSubmitCompletionPaysOutOnce(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodPost, "/v1/completions", submitBody(5), testClaims(auth.ScopeProgressWrite))
	require.Equal(t, http.StatusCreated, recorder.Code)

	var view CompletionView
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&view))
	require.Equal(t, int64(5), view.CoinsEarned)
	require.Equal(t, int64(10), view.XPEarned)
	require.True(t, view.BadgeEarned)
	require.True(t, view.FullyCompleted)
	require.Equal(t, int64(5), view.Balance)
}

func TestSubmitCompletionIdempotentReplayReturnsOK(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	first := doRequest(t, handler, http.MethodPost, "/v1/completions", submitBody(5), testClaims(auth.ScopeProgressWrite))
	require.Equal(t, http.StatusCreated, first.Code)

	second := doRequest(t, handler, http.MethodPost, "/v1/completions", submitBody(5), testClaims(auth.ScopeProgressWrite))
	require.Equal(t, http.StatusOK, second.Code)

	var view CompletionView
	require.NoError(t, json.NewDecoder(second.Body).Decode(&view))
	require.Equal(t, int64(5), view.CoinsEarned)
	require.Equal(t, int64(5), repo.balance)
}

func TestSubmitCompletionRejectsMissingScope(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodPost, "/v1/completions", submitBody(5), testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestSubmitCompletionRejectsAnonymous(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodPost, "/v1/completions", submitBody(5), nil)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSubmitCompletionValidationError(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	body := submitBody(5)
	body.ActivityID = ""
	recorder := doRequest(t, handler, http.MethodPost, "/v1/completions", body, testClaims(auth.ScopeProgressWrite))
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&payload))
	require.Equal(t, "validation_failed", payload["type"])
}

func TestReplayUnlockStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		prepare    func(repo *stubRepo)
		activityID string
		wantStatus int
		wantType   string
	}{
		{
			name: "insufficient balance",
			prepare: func(repo *stubRepo) {
				repo.progress["tenant-1/child-1/counting-1"] = &domain.ProgressRecord{
					TenantID: "tenant-1", UserID: "child-1", ActivityID: "counting-1", FullyCompleted: true,
				}
				repo.balance = 1
			},
			activityID: "counting-1",
			wantStatus: http.StatusPaymentRequired,
			wantType:   "insufficient_balance",
		},
		{
			name: "already unlocked",
			prepare: func(repo *stubRepo) {
				repo.progress["tenant-1/child-1/counting-1"] = &domain.ProgressRecord{
					TenantID: "tenant-1", UserID: "child-1", ActivityID: "counting-1", FullyCompleted: true, ReplayUnlocked: true,
				}
				repo.balance = 10
			},
			activityID: "counting-1",
			wantStatus: http.StatusConflict,
			wantType:   "already_unlocked",
		},
		{
			name:       "not completed",
			prepare:    func(repo *stubRepo) { repo.balance = 10 },
			activityID: "counting-1",
			wantStatus: http.StatusConflict,
			wantType:   "not_completed",
		},
		{
			name:       "unknown activity",
			prepare:    func(repo *stubRepo) {},
			activityID: "mystery-9",
			wantStatus: http.StatusNotFound,
			wantType:   "not_found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubRepo()
			tc.prepare(repo)
			handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

			target := "/v1/replays/" + tc.activityID + "/unlock"
			recorder := doRequest(t, handler, http.MethodPost, target, nil, testClaims(auth.ScopeWalletSpend))
			require.Equal(t, tc.wantStatus, recorder.Code)

			var payload map[string]string
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&payload))
			require.Equal(t, tc.wantType, payload["type"])
		})
	}
}

func TestReplayUnlockDebitsTieredCost(t *testing.T) {
	repo := newStubRepo()
	repo.progress["tenant-1/child-1/counting-1"] = &domain.ProgressRecord{
		TenantID: "tenant-1", UserID: "child-1", ActivityID: "counting-1", FullyCompleted: true,
	}
	repo.balance = 5
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodPost, "/v1/replays/counting-1/unlock", nil, testClaims(auth.ScopeWalletSpend))
	require.Equal(t, http.StatusOK, recorder.Code)

	var view UnlockView
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&view))
	require.True(t, view.ReplayUnlocked)
	require.Equal(t, int64(2), view.Cost)
	require.Equal(t, int64(3), view.Balance)
}

func TestReplayUnlockRequiresSpendScope(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodPost, "/v1/replays/counting-1/unlock", nil, testClaims(auth.ScopeProgressWrite))
	require.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestGetProgressReturnsDerivedState(t *testing.T) {
	repo := newStubRepo()
	repo.progress["tenant-1/child-1/counting-1"] = &domain.ProgressRecord{
		TenantID: "tenant-1", UserID: "child-1", ActivityID: "counting-1", FullyCompleted: true, ReplayUnlocked: true,
	}
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodGet, "/v1/progress/counting-1", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusOK, recorder.Code)

	var view ProgressView
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&view))
	require.True(t, view.FullyCompleted)
	require.True(t, view.ReplayUnlocked)
}

func TestGetProgressUnknownActivityIsNotStarted(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodGet, "/v1/progress/counting-1", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusOK, recorder.Code)

	var view ProgressView
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&view))
	require.False(t, view.FullyCompleted)
	require.False(t, view.ReplayUnlocked)
}

func TestListProgressReturnsRecords(t *testing.T) {
	repo := newStubRepo()
	repo.progress["tenant-1/child-1/counting-1"] = &domain.ProgressRecord{
		TenantID: "tenant-1", UserID: "child-1", ActivityID: "counting-1",
		FullyCompleted: true, CoinsAwardedTotal: 5, BadgeEarned: true,
		UpdatedAt: time.Now().UTC(),
	}
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodGet, "/v1/progress?limit=10", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp ListProgressResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, "completed_locked", resp.Items[0].State)
	require.Equal(t, int64(5), resp.Items[0].CoinsAwardedTotal)
	require.Empty(t, resp.NextCursor)
}

func TestListProgressCrossUserNeedsReadAnyScope(t *testing.T) {
	repo := newStubRepo()
	repo.progress["tenant-1/child-2/counting-1"] = &domain.ProgressRecord{
		TenantID: "tenant-1", UserID: "child-2", ActivityID: "counting-1",
		FullyCompleted: true, CoinsAwardedTotal: 5,
		UpdatedAt: time.Now().UTC(),
	}
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	// A plain read token cannot browse another user's records.
	recorder := doRequest(t, handler, http.MethodGet, "/v1/progress?user_id=child-2", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusForbidden, recorder.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&payload))
	require.Equal(t, "forbidden", payload["type"])

	// Requesting your own user id explicitly stays allowed.
	recorder = doRequest(t, handler, http.MethodGet, "/v1/progress?user_id=child-1", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusOK, recorder.Code)

	// The dashboard scope unlocks the cross-user read.
	recorder = doRequest(t, handler, http.MethodGet, "/v1/progress?user_id=child-2", nil, testClaims(auth.ScopeProgressRead, auth.ScopeProgressReadAny))
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp ListProgressResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, "counting-1", resp.Items[0].ActivityID)
}

func TestListProgressRejectsMalformedCursor(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodGet, "/v1/progress?cursor=%21%21not-base64", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestWalletReturnsBalance(t *testing.T) {
	repo := newStubRepo()
	repo.balance = 7
	handler := NewHandler(domain.NewService(repo, stubOrdinals{"counting-1": 1}))

	recorder := doRequest(t, handler, http.MethodGet, "/v1/wallet", nil, testClaims(auth.ScopeProgressRead))
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload map[string]int64
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&payload))
	require.Equal(t, int64(7), payload["balance"])
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	repo := newStubRepo()
	handler := NewHandler(domain.NewService(repo, stubOrdinals{}))

	recorder := doRequest(t, handler, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}
