package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"ngpt-server/internal/domain/chat"
)

// Estimator counts tokens for a unit of message content.
// Implementations must be deterministic and free of side effects.
type Estimator interface {
	Estimate(content chat.Content) int
}

// EstimateMessages sums the estimate of every message's content.
func EstimateMessages(e Estimator, messages []chat.Message) int {
	total := 0
	for _, m := range messages {
		total += e.Estimate(m.Content)
	}
	return total
}

var loaderOnce sync.Once

// BPEEstimator tokenizes with a model-family byte pair encoding.
// Ranks are embedded in the binary, so construction never touches the network.
type BPEEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	mu       sync.Mutex
}

// NewBPEEstimator loads the named encoding, for example "cl100k_base" or "o200k_base".
func NewBPEEstimator(encoding string) (*BPEEstimator, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &BPEEstimator{encoding: encoding, enc: enc}, nil
}

// Estimate returns the number of BPE tokens in the content's canonical form.
// Image parts count as their serialized JSON, not as image tokens.
func (e *BPEEstimator) Estimate(content chat.Content) int {
	text := content.Canonical()
	if text == "" {
		return 0
	}
	// The encoder caches internally and is not documented as goroutine safe.
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(text, nil, nil))
}

func (e *BPEEstimator) Encoding() string {
	return e.encoding
}
