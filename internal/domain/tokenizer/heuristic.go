package tokenizer

import (
	"unicode/utf8"

	"ngpt-server/internal/domain/chat"
)

const (
	// charsPerToken estimates ~4 characters per token for Latin text.
	charsPerToken = 4

	// charsPerTokenCJK estimates ~1.5 characters per token for CJK content.
	charsPerTokenCJK = 1.5

	// cjkThreshold switches to the CJK ratio once this share of runes is CJK.
	cjkThreshold = 0.3
)

// HeuristicEstimator approximates token counts from character counts.
// It needs no vocabulary and is used when the BPE ranks are unavailable.
type HeuristicEstimator struct{}

func NewHeuristicEstimator() HeuristicEstimator {
	return HeuristicEstimator{}
}

func (HeuristicEstimator) Estimate(content chat.Content) int {
	return estimateText(content.Canonical())
}

func estimateText(text string) int {
	if len(text) == 0 {
		return 0
	}

	runeCount := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	var tokens int
	if float64(cjkCount)/float64(runeCount) > cjkThreshold {
		cjkTokens := float64(cjkCount) / charsPerTokenCJK
		otherTokens := float64(runeCount-cjkCount) / float64(charsPerToken)
		tokens = int(cjkTokens + otherTokens)
	} else {
		tokens = runeCount / charsPerToken
	}

	// Any non-empty text costs at least one token.
	if tokens == 0 {
		return 1
	}
	return tokens
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Unified Ideographs Extension A
		(r >= 0x3040 && r <= 0x309F) || // Hiragana
		(r >= 0x30A0 && r <= 0x30FF) || // Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul Syllables
}
