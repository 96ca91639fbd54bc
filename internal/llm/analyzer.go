package llm

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotConfigured is returned when no model credentials were supplied.
var ErrNotConfigured = errors.New("llm: no model configured")

// Completer sends one system + user message pair and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analyzer wraps a Completer with the verdict contract.
type Analyzer struct {
	completer Completer
	model     string
	logger    *slog.Logger
}

// NewAnalyzer accepts a nil completer; Analyze then fails with
// ErrNotConfigured.
func NewAnalyzer(c Completer, model string, logger *slog.Logger) *Analyzer {
	return &Analyzer{completer: c, model: model, logger: logger}
}

// Model is the configured model name, for display.
func (a *Analyzer) Model() string { return a.model }

// Configured reports whether a completer is present.
func (a *Analyzer) Configured() bool { return a.completer != nil }

// Analyze asks the model for a verdict. A transport failure is returned as
// an error. A response that cannot be parsed yields Fallback() with
// fallback=true.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (res *Result, fallback bool, err error) {
	if a.completer == nil {
		return nil, false, ErrNotConfigured
	}

	text, err := a.completer.Complete(ctx, SystemPrompt, UserPrompt(in))
	if err != nil {
		return nil, false, err
	}

	res, err = Parse(text)
	if err != nil {
		a.logger.Warn("unparseable model response, using fallback verdict",
			slog.String("url", in.URL),
			slog.String("error", err.Error()),
			slog.Int("responseLen", len(text)),
		)
		return Fallback(), true, nil
	}
	return res, false, nil
}
