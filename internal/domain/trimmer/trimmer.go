package trimmer

import (
	"github.com/rs/zerolog"

	"ngpt-server/internal/domain/chat"
	"ngpt-server/internal/domain/tokenizer"
)

// Boundary decides what happens to the message whose estimate crosses the budget.
type Boundary int

const (
	// BoundaryStrict drops the crossing message unless it is the newest one,
	// so the kept total stays under budget whenever more than one message is kept.
	// It is the default; the web client trims inclusively.
	BoundaryStrict Boundary = iota
	// BoundaryInclusive keeps the crossing message and stops there. This is how the web
	// client trims; the kept total may exceed the budget by that one message.
	BoundaryInclusive
)

func (b Boundary) String() string {
	if b == BoundaryInclusive {
		return "inclusive"
	}
	return "strict"
}

// ParseBoundary maps "inclusive" to BoundaryInclusive and anything else to BoundaryStrict.
func ParseBoundary(s string) Boundary {
	if s == "inclusive" {
		return BoundaryInclusive
	}
	return BoundaryStrict
}

// Result contains the result of trimming messages.
type Result struct {
	Messages        []chat.Message
	TrimmedCount    int
	EstimatedTokens int
}

// Trimmer keeps the most recent suffix of a conversation that fits a token budget.
type Trimmer struct {
	estimator tokenizer.Estimator
	boundary  Boundary
	log       zerolog.Logger
}

func New(estimator tokenizer.Estimator, boundary Boundary, log zerolog.Logger) *Trimmer {
	return &Trimmer{
		estimator: estimator,
		boundary:  boundary,
		log:       log,
	}
}

func (t *Trimmer) Boundary() Boundary {
	return t.boundary
}

// Trim walks from the newest message to the oldest, accumulating estimates until the
// running total reaches budget. The result is chronological with the newest message last,
// and is never empty for non-empty input, even when budget <= 0.
func (t *Trimmer) Trim(messages []chat.Message, budget int) Result {
	if len(messages) == 0 {
		return Result{}
	}

	kept := 0
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := t.estimator.Estimate(messages[i].Content)
		if total+cost >= budget {
			if t.boundary == BoundaryInclusive || kept == 0 {
				total += cost
				kept++
			}
			break
		}
		total += cost
		kept++
	}

	result := make([]chat.Message, kept)
	copy(result, messages[len(messages)-kept:])
	trimmed := len(messages) - kept

	event := t.log.Debug()
	if trimmed > 0 {
		event = t.log.Info()
	}
	event.
		Int("initial_messages", len(messages)).
		Int("final_messages", kept).
		Int("trimmed_count", trimmed).
		Int("final_tokens", total).
		Int("budget", budget).
		Str("boundary", t.boundary.String()).
		Msg("context window trimmed")

	return Result{
		Messages:        result,
		TrimmedCount:    trimmed,
		EstimatedTokens: total,
	}
}
