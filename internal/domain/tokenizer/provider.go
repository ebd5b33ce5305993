package tokenizer

import (
	"ngpt-server/internal/config"
)

// NewEstimator builds the estimator selected by TOKENIZER.
func NewEstimator(cfg *config.Config) (Estimator, error) {
	if cfg.Tokenizer == config.TokenizerHeuristic {
		return NewHeuristicEstimator(), nil
	}
	return NewBPEEstimator(cfg.TokenizerEncoding)
}
