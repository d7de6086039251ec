package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	minQuestionLength = 5
	maxQuestionLength = 1000
)

// suspicious content that has no business in a search question.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)system\s*\(`),
	regexp.MustCompile(`__import__`),
	regexp.MustCompile(`(?i)subprocess`),
}

// ValidateQuestion checks a natural language question before it enters
// the pipeline. Failures are caller mistakes (ErrInvalidInput).
func ValidateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if len(trimmed) < minQuestionLength {
		return fmt.Errorf("%w: question must be at least %d characters", ErrInvalidInput, minQuestionLength)
	}
	if len(question) > maxQuestionLength {
		return fmt.Errorf("%w: question must be at most %d characters", ErrInvalidInput, maxQuestionLength)
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(question) {
			return fmt.Errorf("%w: question contains potentially unsafe content", ErrInvalidInput)
		}
	}
	return nil
}
