package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

// ToolSource supplies the current tool catalog. It is read on every step so a
// registry refresh takes effect on the next model call.
type ToolSource interface {
	Infos() []*schema.ToolInfo
}

type decision struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type reasonerImpl struct {
	tools            ToolSource
	conciergeRunner  compose.Runnable[[]*schema.Message, *schema.Message]
	structuredRunner compose.Runnable[map[string]any, decision]
	parser           schema.MessageParser[decision]
}

var _ contractx.Reasoner = (*reasonerImpl)(nil)

func newReasoner(
	ctx context.Context,
	conciergeModel einomodel.BaseChatModel,
	structurerModel einomodel.BaseChatModel,
	tools ToolSource,
	conciergePrompt string,
	structurerPrompt string,
) (*reasonerImpl, error) {
	if conciergeModel == nil || structurerModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if tools == nil {
		return nil, fmt.Errorf("%w: tool source is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(conciergePrompt) == "" || strings.TrimSpace(structurerPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}

	conciergeRunner, err := compileConciergeGraph(ctx, conciergeModel, conciergePrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	structuredRunner, err := compileStructurerGraph(ctx, structurerModel, structurerPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	return &reasonerImpl{
		tools:            tools,
		conciergeRunner:  conciergeRunner,
		structuredRunner: structuredRunner,
		parser: schema.NewMessageJSONParser[decision](&schema.MessageJSONParseConfig{
			ParseFrom: schema.MessageParseFromContent,
		}),
	}, nil
}

// Next runs one model round trip over the full history. A reply carrying tool calls
// becomes tool requests; any other reply must resolve to a structured result.
func (r *reasonerImpl) Next(ctx context.Context, history []statex.Message) (contractx.ReasonerStep, error) {
	if len(history) == 0 {
		return contractx.ReasonerStep{}, fmt.Errorf("%w: history is empty", contractx.ErrValidation)
	}

	msg, err := r.conciergeRunner.Invoke(ctx, toSchemaMessages(history),
		compose.WithChatModelOption(einomodel.WithTools(r.tools.Infos())),
	)
	if err != nil {
		return contractx.ReasonerStep{}, fmt.Errorf("%w: concierge invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return contractx.ReasonerStep{}, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
	}

	if len(msg.ToolCalls) > 0 {
		reqs, err := toToolRequests(msg.ToolCalls)
		if err != nil {
			return contractx.ReasonerStep{}, err
		}
		return contractx.ReasonerStep{
			Reply:        strings.TrimSpace(msg.Content),
			ToolRequests: reqs,
		}, nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return contractx.ReasonerStep{}, fmt.Errorf("%w: model returned neither tool calls nor content", contractx.ErrSchemaViolation)
	}

	result, err := r.resolveResult(ctx, history, content)
	if err != nil {
		return contractx.ReasonerStep{}, err
	}
	return contractx.ReasonerStep{
		Reply:  content,
		Result: result,
	}, nil
}

// resolveResult reads the status/message envelope straight from the reply and falls
// back to the structurer model when the reply is free text.
func (r *reasonerImpl) resolveResult(ctx context.Context, history []statex.Message, content string) (*statex.StructuredResult, error) {
	if out, err := r.parser.Parse(ctx, &schema.Message{Role: schema.Assistant, Content: stripCodeFence(content)}); err == nil {
		if res, ok := out.result(); ok {
			return res, nil
		}
	}

	log.Debug().Msg("reply is not a status envelope, running structurer")

	input, err := json.Marshal(map[string]any{
		"user_message":    lastUserMessage(history),
		"assistant_reply": content,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal structurer payload: %v", contractx.ErrValidation, err)
	}
	out, err := r.structuredRunner.Invoke(ctx, map[string]any{
		"input": string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: structurer invoke: %v", contractx.ErrModelInvoke, err)
	}
	res, ok := out.result()
	if !ok {
		return nil, fmt.Errorf("%w: structurer returned status=%q", contractx.ErrSchemaViolation, out.Status)
	}
	return res, nil
}

func (d decision) result() (*statex.StructuredResult, bool) {
	status := statex.Status(strings.ToLower(strings.TrimSpace(d.Status)))
	message := strings.TrimSpace(d.Message)
	if !status.Valid() || message == "" {
		return nil, false
	}
	return &statex.StructuredResult{Status: status, Message: message}, true
}

func toToolRequests(calls []schema.ToolCall) ([]contractx.ToolRequest, error) {
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		id := strings.TrimSpace(call.ID)
		if id == "" {
			id = "call_" + uuid.NewString()
		}

		reqs = append(reqs, contractx.ToolRequest{
			ID:   id,
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func lastUserMessage(history []statex.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == statex.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
