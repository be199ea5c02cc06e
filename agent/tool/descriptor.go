package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/mcp"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
)

// ParamType follows JSON Schema primitive names. An empty type accepts any value.
type ParamType string

const (
	TypeAny     ParamType = ""
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

type Param struct {
	Type        ParamType `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Items       ParamType `json:"items,omitempty"` // element type when Type is array
}

// ToolDescriptor is the registry's immutable view of one remote tool.
type ToolDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Params      map[string]Param `json:"params,omitempty"`
	Output      string           `json:"output"`
}

const outputContent = "content"

// DescriptorFromMCP converts an MCP tool listing entry.
func DescriptorFromMCP(t mcp.Tool) (ToolDescriptor, error) {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return ToolDescriptor{}, fmt.Errorf("%w: tool with empty name", contractx.ErrSchemaViolation)
	}

	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, r := range t.InputSchema.Required {
		required[r] = true
	}

	params := make(map[string]Param, len(t.InputSchema.Properties))
	for pname, raw := range t.InputSchema.Properties {
		prop, _ := raw.(map[string]any)
		p := Param{
			Type:     schemaType(prop),
			Required: required[pname],
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		if p.Type == TypeArray {
			if items, ok := prop["items"].(map[string]any); ok {
				p.Items = schemaType(items)
			}
		}
		params[pname] = p
	}

	return ToolDescriptor{
		Name:        name,
		Description: strings.TrimSpace(t.Description),
		Params:      params,
		Output:      outputContent,
	}, nil
}

// schemaType resolves "type" (string or list) and anyOf unions such as
// {"anyOf":[{"type":"string"},{"type":"null"}]} to a single type, or TypeAny.
func schemaType(prop map[string]any) ParamType {
	if prop == nil {
		return TypeAny
	}
	var candidates []string
	switch v := prop["type"].(type) {
	case string:
		candidates = append(candidates, v)
	case []any:
		for _, t := range v {
			if s, ok := t.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}
	if anyOf, ok := prop["anyOf"].([]any); ok {
		for _, alt := range anyOf {
			if m, ok := alt.(map[string]any); ok {
				if s, ok := m["type"].(string); ok {
					candidates = append(candidates, s)
				}
			}
		}
	}

	var picked ParamType
	for _, c := range candidates {
		if c == "null" {
			continue
		}
		if picked != TypeAny && picked != ParamType(c) {
			return TypeAny
		}
		picked = ParamType(c)
	}
	return picked
}

// Info renders the descriptor for the model's tool binding.
func (d ToolDescriptor) Info() *schema.ToolInfo {
	params := make(map[string]*schema.ParameterInfo, len(d.Params))
	for name, p := range d.Params {
		info := &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
		}
		if p.Type == TypeArray {
			info.ElemInfo = &schema.ParameterInfo{Type: dataType(p.Items)}
		}
		params[name] = info
	}
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}
}

func dataType(t ParamType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	case TypeArray:
		return schema.Array
	case TypeObject:
		return schema.Object
	default:
		return schema.String
	}
}

// Validate checks args against the descriptor. Optional params may be null.
func (d ToolDescriptor) Validate(args map[string]any) error {
	var problems []string

	for name, p := range d.Params {
		v, ok := args[name]
		if p.Required && (!ok || v == nil) {
			problems = append(problems, fmt.Sprintf("missing required %q", name))
		}
	}
	for name, v := range args {
		p, ok := d.Params[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unexpected %q", name))
			continue
		}
		if v == nil {
			continue
		}
		if !matches(p.Type, v) {
			problems = append(problems, fmt.Sprintf("%q must be %s", name, p.Type))
			continue
		}
		if p.Type == TypeArray && p.Items != TypeAny {
			for i, elem := range v.([]any) {
				if !matches(p.Items, elem) {
					problems = append(problems, fmt.Sprintf("%q[%d] must be %s", name, i, p.Items))
				}
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: tool=%s: %s", contractx.ErrInvalidArguments, d.Name, strings.Join(problems, "; "))
}

func matches(t ParamType, v any) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	case TypeNumber:
		_, ok := number(v)
		return ok
	case TypeInteger:
		f, ok := number(v)
		return ok && f == math.Trunc(f)
	default:
		return true
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
