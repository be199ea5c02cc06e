package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
)

type scriptedReasoner struct {
	mu    sync.Mutex
	steps []func(history []statex.Message) (contractx.ReasonerStep, error)
	calls int
}

func (r *scriptedReasoner) Next(ctx context.Context, history []statex.Message) (contractx.ReasonerStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.steps) == 0 {
		return contractx.ReasonerStep{}, errors.New("script exhausted")
	}
	step := r.steps[0]
	if len(r.steps) > 1 {
		r.steps = r.steps[1:]
	}
	return step(history)
}

type fakeTools struct {
	mu      sync.Mutex
	results map[string]any
	errs    map[string]error
	calls   []string
}

func (f *fakeTools) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s%v", name, args))
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.results[name], nil
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
}

func toolStep(id, tool string, args map[string]any) func([]statex.Message) (contractx.ReasonerStep, error) {
	return func([]statex.Message) (contractx.ReasonerStep, error) {
		return contractx.ReasonerStep{ToolRequests: []contractx.ToolRequest{{ID: id, Tool: tool, Args: args}}}, nil
	}
}

func resultStep(status statex.Status, message string) func([]statex.Message) (contractx.ReasonerStep, error) {
	return func([]statex.Message) (contractx.ReasonerStep, error) {
		return contractx.ReasonerStep{
			Reply:  message,
			Result: &statex.StructuredResult{Status: status, Message: message},
		}, nil
	}
}

func TestRunTurnClassesTomorrowScenario(t *testing.T) {
	t.Parallel()

	classes := `[{"name":"Yoga","starts_at":"2025-01-02T09:00:00Z"}]`
	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		toolStep("c1", "get_tomorrow_date", nil),
		func(history []statex.Message) (contractx.ReasonerStep, error) {
			last := history[len(history)-1]
			if last.Role != statex.RoleTool || last.Content != "2025-01-02" {
				return contractx.ReasonerStep{}, fmt.Errorf("unexpected last message: %#v", last)
			}
			return toolStep("c2", "get_classes", map[string]any{
				"start_date":   "2025-01-02",
				"studio_uuids": []any{"X"},
			})(history)
		},
		resultStep(statex.StatusCompleted, "Tomorrow at Studio X: Yoga at 9am."),
	}}
	tools := &fakeTools{results: map[string]any{
		"get_tomorrow_date": "2025-01-02",
		"get_classes":       classes,
	}}

	s := statex.NewSession("s1", fixedNow())
	res, steps := RunTurn(context.Background(), s, "What classes are at Studio X tomorrow?", TurnDeps{
		Reasoner: reasoner,
		Tools:    tools,
		MaxSteps: 5,
		Now:      fixedNow,
	})

	if steps != 3 {
		t.Fatalf("expected 3 steps, got %d", steps)
	}
	if res.Status != statex.StatusCompleted || res.Message != "Tomorrow at Studio X: Yoga at 9am." {
		t.Fatalf("unexpected result: %#v", res)
	}
	if len(tools.calls) != 2 || !strings.HasPrefix(tools.calls[1], "get_classes") {
		t.Fatalf("unexpected tool calls: %v", tools.calls)
	}

	roles := make([]statex.Role, 0, len(s.History))
	for _, m := range s.History {
		roles = append(roles, m.Role)
	}
	want := []statex.Role{
		statex.RoleUser,
		statex.RoleAssistant, statex.RoleTool,
		statex.RoleAssistant, statex.RoleTool,
		statex.RoleAssistant,
	}
	if fmt.Sprint(roles) != fmt.Sprint(want) {
		t.Fatalf("history roles = %v, want %v", roles, want)
	}
	if s.History[4].Content != classes {
		t.Fatalf("tool payload must pass through verbatim, got %q", s.History[4].Content)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("session must stay valid: %v", err)
	}

	out := contractx.Classify(s)
	if !out.IsTaskComplete || out.RequireUserInput || out.Content != res.Message {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestRunTurnToolErrorReachesReasoner(t *testing.T) {
	t.Parallel()

	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		toolStep("c1", "book_class", map[string]any{"class_id": "k1"}),
		func(history []statex.Message) (contractx.ReasonerStep, error) {
			last := history[len(history)-1]
			return resultStep(statex.StatusError, last.Content)(history)
		},
	}}
	tools := &fakeTools{errs: map[string]error{
		"book_class": fmt.Errorf("%w: tool=book_class: class is full", contractx.ErrToolFailed),
	}}

	s := statex.NewSession("s1", fixedNow())
	res, _ := RunTurn(context.Background(), s, "book k1", TurnDeps{Reasoner: reasoner, Tools: tools, Now: fixedNow})

	if res.Status != statex.StatusError || !strings.Contains(res.Message, "class is full") {
		t.Fatalf("unexpected result: %#v", res)
	}
	out := contractx.Classify(s)
	if out.IsTaskComplete || !out.RequireUserInput || out.Content != res.Message {
		t.Fatalf("unexpected outcome: %#v", out)
	}
	if reasoner.calls != 2 {
		t.Fatalf("reasoner must see the tool error, calls=%d", reasoner.calls)
	}
}

func TestRunTurnClampsLargeToolPayload(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("é", MaxToolResultBytes)
	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		toolStep("c1", "get_classes", nil),
		resultStep(statex.StatusCompleted, "done"),
	}}
	tools := &fakeTools{results: map[string]any{"get_classes": big}}

	s := statex.NewSession("s1", fixedNow())
	RunTurn(context.Background(), s, "classes?", TurnDeps{Reasoner: reasoner, Tools: tools, Now: fixedNow})

	var content string
	for _, m := range s.History {
		if m.Role == statex.RoleTool {
			content = m.Content
		}
	}
	if !strings.Contains(content, "[truncated: kept") {
		t.Fatalf("tool content must carry a truncation marker")
	}
	if len(content) > MaxToolResultBytes+64 {
		t.Fatalf("tool content is %d bytes", len(content))
	}
	if !utf8.ValidString(content) {
		t.Fatal("truncation must keep valid UTF-8")
	}

	small := "2025-01-02"
	if got := clampToolContent(small); got != small {
		t.Fatalf("clampToolContent(%q) = %q", small, got)
	}
}

func TestRunTurnTransportErrorEndsTurn(t *testing.T) {
	t.Parallel()

	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		func([]statex.Message) (contractx.ReasonerStep, error) {
			return contractx.ReasonerStep{ToolRequests: []contractx.ToolRequest{
				{ID: "c1", Tool: "get_bookings"},
				{ID: "c2", Tool: "get_today_date"},
			}}, nil
		},
	}}
	tools := &fakeTools{errs: map[string]error{
		"get_bookings": fmt.Errorf("%w: call get_bookings: connection reset", contractx.ErrConnection),
	}}

	s := statex.NewSession("s1", fixedNow())
	res, steps := RunTurn(context.Background(), s, "my bookings", TurnDeps{Reasoner: reasoner, Tools: tools, Now: fixedNow})

	if res.Status != statex.StatusError || !strings.Contains(res.Message, "connection reset") {
		t.Fatalf("unexpected result: %#v", res)
	}
	if steps != 1 || reasoner.calls != 1 {
		t.Fatalf("turn must stop after the transport failure, steps=%d calls=%d", steps, reasoner.calls)
	}
	if len(tools.calls) != 1 {
		t.Fatalf("remaining calls must not run, got %v", tools.calls)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("session must stay valid: %v", err)
	}
}

func TestRunTurnStepLimit(t *testing.T) {
	t.Parallel()

	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		toolStep("loop", "get_today_date", nil),
	}}
	tools := &fakeTools{results: map[string]any{"get_today_date": "2025-01-01"}}

	s := statex.NewSession("s1", fixedNow())
	res, steps := RunTurn(context.Background(), s, "loop forever", TurnDeps{
		Reasoner: reasoner,
		Tools:    tools,
		MaxSteps: 3,
		Now:      fixedNow,
	})

	if steps != 3 || reasoner.calls != 3 {
		t.Fatalf("reasoner must be called exactly maxSteps times, steps=%d calls=%d", steps, reasoner.calls)
	}
	if res.Status != statex.StatusError || !strings.Contains(res.Message, contractx.ErrStepLimitExceeded.Error()) {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestRunTurnReasonerFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		step func([]statex.Message) (contractx.ReasonerStep, error)
		want string
	}{
		{
			name: "error",
			step: func([]statex.Message) (contractx.ReasonerStep, error) {
				return contractx.ReasonerStep{}, fmt.Errorf("%w: upstream 502", contractx.ErrModelInvoke)
			},
			want: "upstream 502",
		},
		{
			name: "panic",
			step: func([]statex.Message) (contractx.ReasonerStep, error) {
				panic("boom")
			},
			want: "boom",
		},
		{
			name: "no result",
			step: func([]statex.Message) (contractx.ReasonerStep, error) {
				return contractx.ReasonerStep{Reply: "hmm"}, nil
			},
			want: contractx.ErrSchemaViolation.Error(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){tc.step}}
			s := statex.NewSession("s1", fixedNow())
			res, _ := RunTurn(context.Background(), s, "hello", TurnDeps{Reasoner: reasoner, Tools: &fakeTools{}, Now: fixedNow})

			if res.Status != statex.StatusError || !strings.Contains(res.Message, tc.want) {
				t.Fatalf("unexpected result: %#v", res)
			}
			if s.LastUserMessage() != "hello" {
				t.Fatal("user message must be appended")
			}
		})
	}
}

func TestRunTurnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		resultStep(statex.StatusCompleted, "never"),
	}}
	s := statex.NewSession("s1", fixedNow())
	res, _ := RunTurn(ctx, s, "hello", TurnDeps{Reasoner: reasoner, Tools: &fakeTools{}, Now: fixedNow})

	if res.Status != statex.StatusError {
		t.Fatalf("unexpected result: %#v", res)
	}
	if reasoner.calls != 0 {
		t.Fatal("reasoner must not run on a cancelled context")
	}
	if len(s.History) != 1 {
		t.Fatalf("partial history must keep the user message, got %d messages", len(s.History))
	}
}

func TestRunTurnOverwritesPreviousResult(t *testing.T) {
	t.Parallel()

	s := statex.NewSession("s1", fixedNow())
	if err := s.SetResult(&statex.StructuredResult{Status: statex.StatusInputRequired, Message: "Which studio?"}, fixedNow()); err != nil {
		t.Fatal(err)
	}

	reasoner := &scriptedReasoner{steps: []func([]statex.Message) (contractx.ReasonerStep, error){
		resultStep(statex.StatusCompleted, "Booked."),
	}}
	res, _ := RunTurn(context.Background(), s, "Studio X", TurnDeps{Reasoner: reasoner, Tools: &fakeTools{}, Now: fixedNow})

	if res.Status != statex.StatusCompleted || s.Result.Message != "Booked." {
		t.Fatalf("unexpected result: %#v", s.Result)
	}
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	if _, err := ValidateRequest(GraphInput{SessionID: " ", Text: "hi"}, fixedNow); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := ValidateRequest(GraphInput{SessionID: "s1", Text: "  "}, fixedNow); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	st, err := ValidateRequest(GraphInput{SessionID: " s1 ", Text: " hi "}, fixedNow)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.SessionID != "s1" || st.Text != "hi" {
		t.Fatalf("input must be trimmed: %#v", st)
	}
	if !st.Now.Equal(fixedNow()) {
		t.Fatalf("Now = %v", st.Now)
	}

	cases := []struct {
		name string
		in   GraphInput
		want error
	}{
		{name: "long session id", in: GraphInput{SessionID: strings.Repeat("s", MaxSessionIDLen+1), Text: "hi"}, want: ErrSessionIDShape},
		{name: "control character", in: GraphInput{SessionID: "s\x001", Text: "hi"}, want: ErrSessionIDShape},
		{name: "long message", in: GraphInput{SessionID: "s1", Text: strings.Repeat("é", MaxMessageRunes+1)}, want: ErrMessageTooLong},
	}
	for _, tc := range cases {
		_, err := ValidateRequest(tc.in, fixedNow)
		if !errors.Is(err, tc.want) || !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("%s: error = %v, want %v", tc.name, err, tc.want)
		}
	}

	if _, err := ValidateRequest(GraphInput{SessionID: "5551234567@sms.example.com", Text: strings.Repeat("é", MaxMessageRunes)}, fixedNow); err != nil {
		t.Fatalf("message at the limit must pass: %v", err)
	}
}
