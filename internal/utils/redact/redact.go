package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Level controls how much personal data reaches the logs.
type Level string

const (
	// LevelNone drops the value entirely.
	LevelNone Level = "none"
	// LevelHashed replaces the value with a short salted digest.
	LevelHashed Level = "hashed"
	// LevelFull logs the value unchanged.
	LevelFull Level = "full"
)

// ParseLevel falls back to LevelHashed for unknown input.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelNone:
		return LevelNone
	case LevelFull:
		return LevelFull
	default:
		return LevelHashed
	}
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Redactor masks emails in log fields. A nil Redactor hashes with an empty salt.
type Redactor struct {
	level Level
	salt  string
}

func New(level Level, salt string) *Redactor {
	return &Redactor{level: level, salt: salt}
}

// Email masks a single address. Digests are stable for a given salt so repeated
// rejections of the same caller can be correlated.
func (r *Redactor) Email(email string) string {
	if email == "" {
		return ""
	}
	switch r.levelOrDefault() {
	case LevelNone:
		return "[REDACTED]"
	case LevelFull:
		return email
	default:
		return "email:" + r.hash(strings.ToLower(strings.TrimSpace(email)))
	}
}

// Text masks every email found in s, such as a validator error message.
func (r *Redactor) Text(s string) string {
	if r.levelOrDefault() == LevelFull {
		return s
	}
	return emailPattern.ReplaceAllStringFunc(s, r.Email)
}

func (r *Redactor) levelOrDefault() Level {
	if r == nil || r.level == "" {
		return LevelHashed
	}
	return r.level
}

func (r *Redactor) hash(value string) string {
	salt := ""
	if r != nil {
		salt = r.salt
	}
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])[:8]
}
