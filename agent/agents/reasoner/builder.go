package reasoner

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	llmx "github.com/tanpawarit/Chative-Studio-Agent/agent/llm"
	promptx "github.com/tanpawarit/Chative-Studio-Agent/agent/prompt"
)

// New builds the concierge reasoner over OpenRouter models.
func New(ctx context.Context, cfg llmx.Config, tools ToolSource) (contractx.Reasoner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prompts := promptx.LoadPromptSet()

	conciergeCfg := cfg.OpenRouterFor(contractx.AgentTypeConcierge)
	conciergeModel, err := conciergeCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create concierge model: %v", contractx.ErrModelInvoke, err)
	}
	structurerCfg := cfg.OpenRouterFor(contractx.AgentTypeStructurer)
	structurerModel, err := structurerCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create structurer model: %v", contractx.ErrModelInvoke, err)
	}

	return newReasoner(ctx, conciergeModel, structurerModel, tools, prompts.Concierge, prompts.Structurer)
}
