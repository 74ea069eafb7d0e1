package analysis

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/labelspy/server/internal/agent/prompts"
	logx "github.com/labelspy/server/pkg/logger"
)

// Node names of the intent chain.
const (
	NodeComposition = "composition"
	NodePrompt      = "prompt"
	NodeChatModel   = "chat_model"
	NodeContent     = "content"
)

// buildChain compiles composition -> prompt -> chat model -> content for
// one intent. Components without their own callback support get callbacks
// injected by compose. The model node is named after the model so cost
// observers can resolve its pricing.
func buildChain(ctx context.Context, chat einomodel.BaseChatModel, modelName string, intent prompts.Intent) (compose.Runnable[string, string], error) {
	tpl, err := prompts.Template(intent)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = NodeChatModel
	}

	chain := compose.NewChain[string, string]()
	chain.
		AppendLambda(compose.InvokableLambda(func(_ context.Context, text string) (map[string]any, error) {
			return prompts.Variables(text), nil
		}), compose.WithNodeName(NodeComposition)).
		AppendChatTemplate(tpl, compose.WithNodeName(NodePrompt)).
		AppendChatModel(chat, compose.WithNodeName(modelName)).
		AppendLambda(compose.InvokableLambda(func(_ context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", nil
			}
			return msg.Content, nil
		}), compose.WithNodeName(NodeContent))

	runnable, err := chain.Compile(ctx, compose.WithGraphName(string(intent)))
	if err != nil {
		logx.Error().Err(err).Str("intent", string(intent)).Msg("error compiling chain")
		return nil, fmt.Errorf("compile %s chain: %w", intent, err)
	}
	logx.Debug().Str("intent", string(intent)).Msg("chain compiled successfully")
	return runnable, nil
}
