package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	agentmodel "github.com/labelspy/server/internal/agent/model"
	logx "github.com/labelspy/server/pkg/logger"
)

const maxLoggedContent = 500

// newModelHandler logs model calls together with token usage and cost.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", "model").Str("model", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages))
			}
			ev.Msg("model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", "model").Str("model", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("content", clip(strings.TrimSpace(output.Message.Content)))
				if meta := output.Message.ResponseMeta; meta != nil && meta.Usage != nil {
					inC, outC, totalC := agentmodel.ComputeCost(meta.Usage, agentmodel.ResolvePricing(info.Name))
					ev = ev.
						Int("prompt_tokens", meta.Usage.PromptTokens).
						Int("completion_tokens", meta.Usage.CompletionTokens).
						Int("total_tokens", meta.Usage.TotalTokens).
						Float64("input_cost_usd", inC).
						Float64("output_cost_usd", outC).
						Float64("total_cost_usd", totalC)
				}
			}
			ev.Msg("model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", "model").Str("model", info.Name).Msg("model call failed")
			return ctx
		},
	}
}

func clip(s string) string {
	if len(s) > maxLoggedContent {
		return s[:maxLoggedContent] + "..."
	}
	return s
}
