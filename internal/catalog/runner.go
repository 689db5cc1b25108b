package catalog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/rewards/internal/domain"
)

// QuestionKind tags the interaction variant of a question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindMatchingPairs  QuestionKind = "matching_pairs"
	KindTimedReflex    QuestionKind = "timed_reflex"
)

// Question is one declarative question. Only the fields for its kind are set.
type Question struct {
	Kind         QuestionKind      `json:"kind"`
	Prompt       string            `json:"prompt"`
	Options      []string          `json:"options,omitempty"`
	AnswerIndex  int               `json:"answer_index,omitempty"`
	Pairs        map[string]string `json:"pairs,omitempty"`
	WindowMillis int               `json:"window_millis,omitempty"`
}

func (q Question) validate() error {
	switch q.Kind {
	case KindMultipleChoice:
		if len(q.Options) < 2 {
			return errors.New("multiple choice needs at least two options")
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			return errors.New("answer index out of range")
		}
	case KindMatchingPairs:
		if len(q.Pairs) == 0 {
			return errors.New("matching pairs needs at least one pair")
		}
	case KindTimedReflex:
		if q.WindowMillis <= 0 {
			return errors.New("reflex window must be positive")
		}
	default:
		return fmt.Errorf("unknown question kind %q", q.Kind)
	}
	return nil
}

// Response is a player's answer to one question, in the shape of its kind.
type Response struct {
	SelectedIndex  int
	Matches        map[string]string
	ReactionMillis int
}

// Attempt is the ephemeral outcome of one play session. It reports an
// explicit correct count alongside the question total, so downstream scoring
// never has to disambiguate an overloaded scalar.
type Attempt struct {
	ActivityID      string
	AttemptKey      string
	CorrectCount    int
	TotalQuestions  int
	LevelsCompleted int
	TotalLevels     int
}

// ScoreAsCoins converts the attempt to coin units for submission.
func (a Attempt) ScoreAsCoins(totalCoinReward int64) int64 {
	return domain.CoinsForCorrect(a.CorrectCount, a.TotalQuestions, totalCoinReward)
}

// Runner grades a play-through of one activity definition.
type Runner struct {
	def ActivityDefinition
}

// NewRunner builds a Runner for a definition.
func NewRunner(def ActivityDefinition) *Runner {
	return &Runner{def: def}
}

// Score grades the responses against the question set and produces an
// Attempt with a fresh attempt key. Fewer responses than questions counts the
// missing ones as wrong and leaves the session short of a full pass.
func (r *Runner) Score(responses []Response) Attempt {
	correct := 0
	for i, q := range r.def.Questions {
		if i >= len(responses) {
			break
		}
		if graded(q, responses[i]) {
			correct++
		}
	}

	levels := r.def.Levels
	if levels <= 0 {
		levels = 1
	}
	completed := 0
	if len(responses) >= len(r.def.Questions) {
		completed = levels
	}

	return Attempt{
		ActivityID:      r.def.ID,
		AttemptKey:      uuid.NewString(),
		CorrectCount:    correct,
		TotalQuestions:  len(r.def.Questions),
		LevelsCompleted: completed,
		TotalLevels:     levels,
	}
}

func graded(q Question, resp Response) bool {
	switch q.Kind {
	case KindMultipleChoice:
		return resp.SelectedIndex == q.AnswerIndex
	case KindMatchingPairs:
		if len(resp.Matches) != len(q.Pairs) {
			return false
		}
		for left, right := range q.Pairs {
			if resp.Matches[left] != right {
				return false
			}
		}
		return true
	case KindTimedReflex:
		return resp.ReactionMillis > 0 && resp.ReactionMillis <= q.WindowMillis
	default:
		return false
	}
}
