package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// Verifier gives an advisory second opinion on a document whose structural
// match came up empty. Implementations must fail closed: any transport,
// auth, or malformed-response problem is a negative verdict, never an error
// surfaced to the scan.
type Verifier interface {
	Verify(ctx context.Context, text, term string) bool
}

const (
	// verifyInputLimit truncates the submitted text for cost and latency.
	verifyInputLimit = 5000
	// affirmativeMarker is the token the model is instructed to answer with;
	// anything else is a negative verdict.
	affirmativeMarker = "SIM"

	geminiModel = "gemini-2.0-flash-lite"
)

// GeminiVerifier asks a Gemini model whether a document mentions a person or
// company, directly or through name variations the structural matcher cannot
// see (abbreviations, nicknames, indirect references).
type GeminiVerifier struct {
	model  llms.Model
	logger *slog.Logger
}

// NewGeminiVerifier builds a verifier bound to one API credential.
func NewGeminiVerifier(ctx context.Context, apiKey string) (*GeminiVerifier, error) {
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(geminiModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiVerifier{
		model:  client,
		logger: slog.Default().With("component", "gemini-verifier"),
	}, nil
}

// Verify implements Verifier. The verdict is positive only when the
// response carries the affirmative marker, compared case-insensitively.
func (v *GeminiVerifier) Verify(ctx context.Context, text, term string) bool {
	prompt := buildVerifyPrompt(truncateForVerify(text), term)

	resp, err := llms.GenerateFromSinglePrompt(ctx, v.model, prompt, llms.WithTemperature(0))
	if err != nil {
		v.logger.Warn("semantic verification failed", "err", err)
		return false
	}
	return strings.Contains(strings.ToUpper(strings.TrimSpace(resp)), affirmativeMarker)
}

// buildVerifyPrompt keeps the SIM/NÃO answer protocol so the verdict check
// stays a single marker containment.
func buildVerifyPrompt(text, term string) string {
	var b strings.Builder
	b.WriteString("Analise o seguinte texto e determine se há menção à pessoa ou empresa: \"")
	b.WriteString(term)
	b.WriteString("\"\n\n")
	b.WriteString("Considere:\n")
	b.WriteString("- Variações de nome (abreviações, apelidos)\n")
	b.WriteString("- Menções indiretas\n")
	b.WriteString("- Contexto de negócios/jurídico\n\n")
	b.WriteString("Responda APENAS \"SIM\" ou \"NÃO\".\n\n")
	b.WriteString("Texto:\n")
	b.WriteString(text)
	return b.String()
}

// truncateForVerify cuts the text at verifyInputLimit characters.
func truncateForVerify(text string) string {
	if utf8.RuneCountInString(text) <= verifyInputLimit {
		return text
	}
	return string([]rune(text)[:verifyInputLimit])
}
