// Package engine is the client half of the reward engine: it submits
// completions to the ledger, gates re-entry, and fans authoritative outcomes
// out to UI surfaces. It never decides payouts locally.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/rewards/internal/domain"
)

// BadgeMetadata carries the activity's badge descriptor with a submission.
type BadgeMetadata struct {
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Threshold int64  `json:"threshold,omitempty"`
}

// CompletionRequest is the submit-completion payload.
type CompletionRequest struct {
	ActivityID       string         `json:"activity_id"`
	PerformanceScore int64          `json:"performance_score"`
	ResolvedMaxScore int64          `json:"resolved_max_score"`
	CorrectCount     int            `json:"correct_count"`
	LevelsCompleted  int            `json:"levels_completed"`
	TotalLevels      int            `json:"total_levels"`
	IsReplayHint     bool           `json:"is_replay_hint"`
	QuestionCount    int            `json:"question_count"`
	TotalCoinReward  int64          `json:"total_coin_reward"`
	TotalXPReward    int64          `json:"total_xp_reward"`
	Badge            *BadgeMetadata `json:"badge,omitempty"`
}

// Progress is the ledger's answer to a progress query.
type Progress struct {
	FullyCompleted bool `json:"fully_completed"`
	ReplayUnlocked bool `json:"replay_unlocked"`
}

// Ledger is the backend collaborator owning progress records and wallets.
type Ledger interface {
	SubmitCompletion(ctx context.Context, attemptKey string, req CompletionRequest) (*domain.CompletionResult, error)
	QueryProgress(ctx context.Context, activityID string) (Progress, error)
	UnlockReplay(ctx context.Context, activityID string) (*domain.UnlockResult, error)
	WalletBalance(ctx context.Context) (int64, error)
}

// NetworkError marks a transport-level failure: the outcome is unknown, no
// local state may change, and the operation is safe to retry with the same
// attempt key.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("ledger unreachable: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error should surface a retry affordance.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// HTTPLedger talks to the reward ledger service over its JSON API.
type HTTPLedger struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPLedger constructs a client. The request timeout converts a hung
// backend into a retryable failure instead of an indefinite wait.
func NewHTTPLedger(baseURL, token string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedger{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SubmitCompletion posts one attempt's outcome. The attempt key travels as
// the idempotency key, so a retried submission can never pay twice.
func (l *HTTPLedger) SubmitCompletion(ctx context.Context, attemptKey string, req CompletionRequest) (*domain.CompletionResult, error) {
	var resp completionResponse
	headers := map[string]string{"Idempotency-Key": attemptKey}
	if err := l.do(ctx, http.MethodPost, "/v1/completions", headers, req, &resp); err != nil {
		return nil, err
	}
	result := resp.toResult()
	return &result, nil
}

// QueryProgress fetches the lock state for one activity.
func (l *HTTPLedger) QueryProgress(ctx context.Context, activityID string) (Progress, error) {
	var resp Progress
	err := l.do(ctx, http.MethodGet, "/v1/progress/"+activityID, nil, nil, &resp)
	return resp, err
}

// UnlockReplay requests a paid replay unlock.
func (l *HTTPLedger) UnlockReplay(ctx context.Context, activityID string) (*domain.UnlockResult, error) {
	var resp struct {
		ReplayUnlocked bool  `json:"replay_unlocked"`
		Cost           int64 `json:"cost"`
		Balance        int64 `json:"balance"`
	}
	if err := l.do(ctx, http.MethodPost, "/v1/replays/"+activityID+"/unlock", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.UnlockResult{
		ActivityID:     activityID,
		ReplayUnlocked: resp.ReplayUnlocked,
		Cost:           resp.Cost,
		Balance:        resp.Balance,
	}, nil
}

// WalletBalance fetches the confirmed coin balance.
func (l *HTTPLedger) WalletBalance(ctx context.Context) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	err := l.do(ctx, http.MethodGet, "/v1/wallet", nil, nil, &resp)
	return resp.Balance, err
}

func (l *HTTPLedger) do(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &NetworkError{Err: fmt.Errorf("server error: %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Err: err}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	switch payload.Type {
	case "insufficient_balance":
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, payload.Detail)
	case "already_unlocked":
		return fmt.Errorf("%w: %s", domain.ErrAlreadyUnlocked, payload.Detail)
	case "not_completed":
		return fmt.Errorf("%w: %s", domain.ErrNotCompleted, payload.Detail)
	case "validation_failed":
		return fmt.Errorf("%w: %s", domain.ErrValidation, payload.Detail)
	case "not_found":
		return fmt.Errorf("%w: %s", domain.ErrUnknownActivity, payload.Detail)
	default:
		return fmt.Errorf("ledger rejected request (%s): %s", resp.Status, payload.Detail)
	}
}

type completionResponse struct {
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

func (r completionResponse) toResult() domain.CompletionResult {
	return domain.CompletionResult{
		ActivityID:         r.ActivityID,
		CoinsEarned:        r.CoinsEarned,
		XPEarned:           r.XPEarned,
		BadgeEarned:        r.BadgeEarned,
		BadgeAlreadyEarned: r.BadgeAlreadyEarned,
		AllAnswersCorrect:  r.AllAnswersCorrect,
		FullyCompleted:     r.FullyCompleted,
		IsReplay:           r.IsReplay,
		ReplayUnlocked:     r.ReplayUnlocked,
		Balance:            r.Balance,
	}
}
