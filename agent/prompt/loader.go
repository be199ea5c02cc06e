package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/concierge.txt
	conciergeRaw string

	//go:embed template/structurer.txt
	structurerRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Concierge  string
	Structurer string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Concierge:  strings.TrimSpace(conciergeRaw),
		Structurer: strings.TrimSpace(structurerRaw),
	}
}
