package rag

import (
	"context"
	"regexp"
	"strings"

	"github.com/yungbote/docqa-backend/internal/platform/generation"
)

const (
	intentPlain = "plain"
	intentTable = "table"

	defaultIntentTimeoutMS = 5000
	intentMaxTokens        = 10
)

// tableIntentRE short-circuits the classifier for questions that name a
// tabular answer outright. Saves a network round trip on the common cases.
var tableIntentRE = regexp.MustCompile(`(?i)` +
	`표로|표\s*형식|표를\s*만들|표로\s*정리|` +
	`테이블로|테이블\s*형식|도표로|비교\s*표|` +
	`as\s+a\s+table|in\s+a\s+table|in\s+table\s+form|tabular|table\s+format|make\s+a\s+table`)

// classifyIntent decides plain vs table for document mode. The LLM leg
// runs greedy (temperature 0) under a short deadline; any failure or
// timeout falls back to plain.
func (s *service) classifyIntent(ctx context.Context, question string) string {
	if tableIntentRE.MatchString(question) {
		return intentTable
	}

	cctx, cancel := generation.WithTimeout(ctx, s.cfg.IntentTimeoutMS, "intent classification")
	defer cancel()
	out, err := s.generator.Complete(cctx, []generation.Message{
		{Role: "system", Content: s.prompts.Intent},
		{Role: "user", Content: question},
	}, generation.Params{Temperature: 0, MaxTokens: intentMaxTokens})
	if err != nil {
		s.log.Debug("intent classifier fell back to plain", "error", err)
		return intentPlain
	}
	if strings.Contains(strings.ToLower(out), "table") {
		return intentTable
	}
	return intentPlain
}
