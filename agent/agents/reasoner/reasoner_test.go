package reasoner

import (
	"context"
	"errors"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	tools     [][]*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	f.tools = append(f.tools, einomodel.GetCommonOptions(&einomodel.Options{}, opts...).Tools)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

type staticTools []*schema.ToolInfo

func (s staticTools) Infos() []*schema.ToolInfo { return s }

func testTools() staticTools {
	return staticTools{
		{Name: "get_tomorrow_date", Desc: "Returns tomorrow's date."},
		{
			Name: "get_classes",
			Desc: "Get classes.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"start_date": {Type: schema.String, Required: true},
			}),
		},
	}
}

func userHistory(text string) []statex.Message {
	return []statex.Message{{Role: statex.RoleUser, Content: text}}
}

func TestNextMapsToolCalls(t *testing.T) {
	t.Parallel()

	concierge := &fakeToolCallingModel{
		responses: []*schema.Message{
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "call_1", Function: schema.FunctionCall{Name: "get_tomorrow_date", Arguments: ""}},
					{Function: schema.FunctionCall{Name: "get_classes", Arguments: `{"start_date":"2025-01-02"}`}},
				},
			},
		},
	}
	r, err := newReasoner(context.Background(), concierge, &fakeToolCallingModel{}, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	step, err := r.Next(context.Background(), userHistory("what classes are tomorrow?"))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if step.Result != nil {
		t.Fatalf("tool step must not carry a result: %#v", step.Result)
	}
	if len(step.ToolRequests) != 2 {
		t.Fatalf("expected 2 tool requests, got %#v", step.ToolRequests)
	}
	if step.ToolRequests[0].ID != "call_1" || step.ToolRequests[0].Tool != "get_tomorrow_date" {
		t.Fatalf("unexpected first request: %#v", step.ToolRequests[0])
	}
	if step.ToolRequests[1].ID == "" {
		t.Fatal("missing call id must be synthesized")
	}
	if step.ToolRequests[1].Args["start_date"] != "2025-01-02" {
		t.Fatalf("unexpected args: %#v", step.ToolRequests[1].Args)
	}

	if len(concierge.inputs) != 1 {
		t.Fatalf("expected one model call, got %d", len(concierge.inputs))
	}
	in := concierge.inputs[0]
	if len(in) != 2 || in[0].Role != schema.System || in[0].Content != "concierge prompt" {
		t.Fatalf("system prompt must lead the input: %#v", in)
	}
	if len(concierge.tools[0]) != 2 {
		t.Fatalf("tools must be bound per call, got %d", len(concierge.tools[0]))
	}
}

func TestNextParsesStatusEnvelope(t *testing.T) {
	t.Parallel()

	structurer := &fakeToolCallingModel{}
	concierge := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, Content: "```json\n{\"status\":\"input_required\",\"message\":\"Which studio?\"}\n```"},
		},
	}
	r, err := newReasoner(context.Background(), concierge, structurer, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	step, err := r.Next(context.Background(), userHistory("book me a class"))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if step.Result == nil || step.Result.Status != statex.StatusInputRequired || step.Result.Message != "Which studio?" {
		t.Fatalf("unexpected result: %#v", step.Result)
	}
	if len(structurer.inputs) != 0 {
		t.Fatal("structurer must not run for a well-formed envelope")
	}
}

func TestNextFallsBackToStructurer(t *testing.T) {
	t.Parallel()

	concierge := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, Content: "You are booked for Yoga at 9am."},
		},
	}
	structurer := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, Content: `{"status":"completed","message":"You are booked for Yoga at 9am."}`},
		},
	}
	r, err := newReasoner(context.Background(), concierge, structurer, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	step, err := r.Next(context.Background(), userHistory("book yoga"))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if step.Result == nil || step.Result.Status != statex.StatusCompleted {
		t.Fatalf("unexpected result: %#v", step.Result)
	}
	if step.Reply != "You are booked for Yoga at 9am." {
		t.Fatalf("reply must be kept for history, got %q", step.Reply)
	}
	if len(structurer.inputs) != 1 {
		t.Fatalf("expected one structurer call, got %d", len(structurer.inputs))
	}
}

func TestNextStructurerInvalidStatus(t *testing.T) {
	t.Parallel()

	concierge := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "done"}},
	}
	structurer := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: `{"status":"maybe","message":"done"}`}},
	}
	r, err := newReasoner(context.Background(), concierge, structurer, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	_, err = r.Next(context.Background(), userHistory("hi"))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestNextModelFailure(t *testing.T) {
	t.Parallel()

	concierge := &fakeToolCallingModel{err: errors.New("upstream 502")}
	r, err := newReasoner(context.Background(), concierge, &fakeToolCallingModel{}, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	_, err = r.Next(context.Background(), userHistory("hi"))
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestNextRejectsBadToolArgs(t *testing.T) {
	t.Parallel()

	concierge := &fakeToolCallingModel{
		responses: []*schema.Message{
			{
				Role: schema.Assistant,
				ToolCalls: []schema.ToolCall{
					{ID: "c1", Function: schema.FunctionCall{Name: "get_classes", Arguments: `{"start_date":`}},
				},
			},
		},
	}
	r, err := newReasoner(context.Background(), concierge, &fakeToolCallingModel{}, testTools(), "concierge prompt", "structurer prompt")
	if err != nil {
		t.Fatalf("newReasoner() error = %v", err)
	}

	_, err = r.Next(context.Background(), userHistory("classes"))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestNewReasonerValidation(t *testing.T) {
	t.Parallel()

	m := &fakeToolCallingModel{}
	if _, err := newReasoner(context.Background(), m, m, nil, "a", "b"); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := newReasoner(context.Background(), m, m, testTools(), " ", "b"); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected ErrPromptMissing, got %v", err)
	}
}

func TestToSchemaMessages(t *testing.T) {
	t.Parallel()

	history := []statex.Message{
		{Role: statex.RoleUser, Content: "tomorrow?"},
		{Role: statex.RoleAssistant, ToolCalls: []statex.ToolCall{{ID: "c1", Name: "get_tomorrow_date"}}},
		{Role: statex.RoleTool, Content: "2025-01-02", ToolCallID: "c1", ToolName: "get_tomorrow_date"},
	}

	out := toSchemaMessages(history)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[1].Role != schema.Assistant || len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("unexpected assistant message: %#v", out[1])
	}
	if out[2].Role != schema.Tool || out[2].ToolCallID != "c1" || out[2].Content != "2025-01-02" {
		t.Fatalf("unexpected tool message: %#v", out[2])
	}
}
