package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
)

func ClassifyOutcome(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Session == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	return GraphOutput{
		Outcome: contractx.Classify(in.Session),
		Steps:   in.Steps,
	}, nil
}
