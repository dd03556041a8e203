// Package producer provides concrete Producer implementations: an LLM-backed
// producer and a remote HTTP producer. The engine core stays generic over
// the Producer interface; these adapters are the usual external collaborators.
package producer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

// llmSystemPrompt 约束模型只输出产物本身。
const llmSystemPrompt = `You generate structured artifacts from raw input.
Output only the artifact content, with no commentary before or after it.`

// LLMProducer produces artifacts by calling a chat model.
type LLMProducer struct {
	chatModel model.ChatModel
	cfg       *config.LLMConfig
	log       logger.Logger
}

// NewLLMProducer creates the chat model from the configuration.
func NewLLMProducer(ctx context.Context, cfg *config.LLMConfig, log logger.Logger) (*LLMProducer, error) {
	chatModel, err := createChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 AI 模型失败: %w", err)
	}
	return &LLMProducer{
		chatModel: chatModel,
		cfg:       cfg,
		log:       logger.OrNop(log),
	}, nil
}

// createChatModel 创建 LLM 聊天模型。
func createChatModel(ctx context.Context, cfg *config.LLMConfig) (model.ChatModel, error) {
	chatConfig := &openai.ChatModelConfig{
		Model:  cfg.Model,
		APIKey: cfg.APIKey,
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case "openai":
			baseURL = "https://api.openai.com/v1"
		case "deepseek":
			baseURL = "https://api.deepseek.com/v1"
		}
	}
	if baseURL != "" {
		chatConfig.BaseURL = baseURL
	}

	if cfg.Temperature != nil {
		chatConfig.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		chatConfig.MaxTokens = cfg.MaxTokens
	}

	return openai.NewChatModel(ctx, chatConfig)
}

// Produce builds a refinement-aware prompt and calls the model once.
func (p *LLMProducer) Produce(ctx context.Context, input string, pctx *types.ProduceContext) (*types.Artifact, error) {
	messages := p.buildMessages(input, pctx)

	resp, err := p.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("LLM 调用失败: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, fmt.Errorf("LLM 返回空内容")
	}

	p.log.Debug("[producer] llm produced %d bytes for input of %d bytes", len(content), len(input))

	return &types.Artifact{
		ID:      uuid.New().String(),
		Content: content,
		Format:  formatFor(pctx),
	}, nil
}

// buildMessages 构建 LLM 消息列表，将上一轮反馈注入用户消息。
func (p *LLMProducer) buildMessages(input string, pctx *types.ProduceContext) []*schema.Message {
	var sb strings.Builder

	if pctx != nil {
		if pctx.Domain != "" {
			fmt.Fprintf(&sb, "Domain: %s\n", pctx.Domain)
		}
		if pctx.DataType != "" {
			fmt.Fprintf(&sb, "Data type: %s\n", pctx.DataType)
		}
		if pctx.Mode != "" {
			fmt.Fprintf(&sb, "Mode: %s\n", pctx.Mode)
		}
	}

	sb.WriteString("\nInput:\n")
	sb.WriteString(input)

	if pctx != nil && len(pctx.PriorArtifacts) > 0 {
		prev := pctx.PriorArtifacts[len(pctx.PriorArtifacts)-1]
		sb.WriteString("\n\nPrevious attempt:\n")
		sb.WriteString(prev.Content)
	}

	if pctx != nil && len(pctx.Hints) > 0 {
		sb.WriteString("\n\nApply these improvements:\n")
		for _, hint := range pctx.Hints {
			fmt.Fprintf(&sb, "- %s\n", hint)
		}
	}

	return []*schema.Message{
		schema.SystemMessage(llmSystemPrompt),
		schema.UserMessage(sb.String()),
	}
}

// formatFor 从上下文推断产物格式。
func formatFor(pctx *types.ProduceContext) string {
	if pctx == nil || pctx.DataType == "" {
		return "text"
	}
	return pctx.DataType
}
