// Package analysis turns recognized composition text into a structured
// verdict or a recipe set through one generative chat model.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/labelspy/server/internal/agent/model"
	"github.com/labelspy/server/internal/agent/prompts"
	errx "github.com/labelspy/server/internal/core/error"
	"github.com/labelspy/server/internal/metrics"
	logx "github.com/labelspy/server/pkg/logger"
)

const (
	gatewayName    = "analysis"
	defaultTimeout = 30 * time.Second
)

// Gateway implements analyzeComposition and suggestRecipes on top of any
// Eino chat model.
type Gateway struct {
	chains   map[prompts.Intent]compose.Runnable[string, string]
	timeout  time.Duration
	handlers []einocb.Handler
}

// NewGateway compiles one chain per intent around the chat model. Callback
// handlers, when given, observe prompt rendering and model calls.
func NewGateway(ctx context.Context, chat einomodel.BaseChatModel, cfg model.AnalysisModelConfig, handlers ...einocb.Handler) (*Gateway, error) {
	if chat == nil {
		return nil, errors.New("chat model is nil")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	g := &Gateway{
		chains:   make(map[prompts.Intent]compose.Runnable[string, string]),
		timeout:  timeout,
		handlers: handlers,
	}
	for _, intent := range []prompts.Intent{prompts.IntentAnalyze, prompts.IntentRecipes} {
		chain, err := buildChain(ctx, chat, cfg.Model, intent)
		if err != nil {
			return nil, err
		}
		g.chains[intent] = chain
	}
	return g, nil
}

// AnalyzeComposition asks for a safety verdict on the composition text.
func (g *Gateway) AnalyzeComposition(ctx context.Context, text string) (*model.StructuredAnalysis, error) {
	content, err := g.generate(ctx, prompts.IntentAnalyze, text)
	if err != nil {
		return nil, err
	}
	analysis, err := ParseAnalysis(content)
	if err != nil {
		logx.Warn().Err(err).Str("intent", string(prompts.IntentAnalyze)).Msg("analysis output rejected")
		return nil, err
	}
	return analysis, nil
}

// SuggestRecipes asks for up to model.MaxRecipes recipes using the product.
func (g *Gateway) SuggestRecipes(ctx context.Context, text string) (*model.RecipeSet, error) {
	content, err := g.generate(ctx, prompts.IntentRecipes, text)
	if err != nil {
		return nil, err
	}
	recipes, err := ParseRecipes(content)
	if err != nil {
		logx.Warn().Err(err).Str("intent", string(prompts.IntentRecipes)).Msg("recipes output rejected")
		return nil, err
	}
	return recipes, nil
}

func (g *Gateway) generate(ctx context.Context, intent prompts.Intent, text string) (content string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", errx.New(errx.KindSessionStateMissing, errors.New("composition text is empty"), "nothing to analyze")
	}

	started := time.Now()
	defer func() {
		metrics.ObserveGateway(gatewayName+"_"+string(intent), errx.Outcome(err), time.Since(started))
	}()

	chain, ok := g.chains[intent]
	if !ok {
		return "", errx.Newf(errx.KindAnalysisUnavailable, "unknown intent", "no chain for intent %q", intent)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := chain.Invoke(ctx, text, compose.WithCallbacks(g.handlers...))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logx.Error().Err(err).Dur("timeout", g.timeout).Str("intent", string(intent)).Msg("analysis call timed out")
			return "", errx.New(errx.KindAnalysisUnavailable, err, "analysis provider timed out")
		}
		logx.Error().Err(err).Str("intent", string(intent)).Msg("analysis call failed")
		return "", errx.New(errx.KindAnalysisUnavailable, err, "analysis provider unavailable")
	}
	if strings.TrimSpace(out) == "" {
		return "", errx.New(errx.KindAnalysisMalformed, errors.New("empty model output"), "analysis response malformed")
	}
	return out, nil
}
