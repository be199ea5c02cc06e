package orchestratornode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
	metricsx "github.com/tanpawarit/Chative-Studio-Agent/pkg/metrics"
)

const DefaultMaxSteps = 10

// MaxToolResultBytes bounds the content kept in one tool message.
const MaxToolResultBytes = 64 << 10

type TurnDeps struct {
	Reasoner contractx.Reasoner
	Tools    contractx.ToolInvoker
	MaxSteps int
	Now      func() time.Time
}

// ExecuteTurn is the graph node around RunTurn.
func ExecuteTurn(ctx context.Context, in *GraphState, deps TurnDeps) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	in.Result, in.Steps = RunTurn(ctx, in.Session, in.Text, deps)
	return in, nil
}

// RunTurn appends userText to s and drives the reasoner until it yields a structured
// result or MaxSteps round trips are used. It always stores exactly one result on s
// and never returns an error: failures become an error result.
func RunTurn(ctx context.Context, s *statex.Session, userText string, deps TurnDeps) (*statex.StructuredResult, int) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	maxSteps := deps.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	logger := log.With().Str("session_id", s.SessionID).Logger()
	s.AppendUser(userText, now())

	var (
		result *statex.StructuredResult
		steps  int
	)
	for steps < maxSteps {
		steps++

		step, err := nextStep(ctx, deps.Reasoner, s.History)
		if err != nil {
			logger.Warn().Err(err).Int("step", steps).Msg("reasoner failed")
			result = statex.ErrorResult(describe(err))
			break
		}

		if len(step.ToolRequests) > 0 {
			s.AppendAssistant(step.Reply, toStateCalls(step.ToolRequests), now())
			if err := invokeTools(ctx, s, step.ToolRequests, deps.Tools, now, logger.With().Int("step", steps).Logger()); err != nil {
				result = statex.ErrorResult(describe(err))
				break
			}
			continue
		}

		if step.Result == nil || !step.Result.Status.Valid() {
			result = statex.ErrorResult(describe(fmt.Errorf("%w: reasoner returned no structured result", contractx.ErrSchemaViolation)))
			break
		}

		s.AppendAssistant(step.Reply, nil, now())
		result = step.Result
		break
	}

	if result == nil {
		logger.Warn().Int("max_steps", maxSteps).Msg("step limit reached without a result")
		result = statex.ErrorResult(describe(fmt.Errorf("%w: no result after %d steps", contractx.ErrStepLimitExceeded, maxSteps)))
	}

	// result is validated above or built with a valid status
	_ = s.SetResult(result, now())

	metricsx.TurnsTotal.WithLabelValues(string(result.Status)).Inc()
	metricsx.TurnSteps.Observe(float64(steps))
	logger.Info().Str("status", string(result.Status)).Int("steps", steps).Msg("turn finished")

	return s.Result, steps
}

// nextStep calls the reasoner and turns a panic into an error.
func nextStep(ctx context.Context, r contractx.Reasoner, history []statex.Message) (step contractx.ReasonerStep, err error) {
	if err := ctx.Err(); err != nil {
		return contractx.ReasonerStep{}, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: reasoner panic: %v", contractx.ErrModelInvoke, rec)
		}
	}()
	return r.Next(ctx, history)
}

// invokeTools resolves each request once, in order, and appends one tool message per
// request. Tool-side failures are recorded for the model to react to; a transport
// failure aborts the turn.
func invokeTools(
	ctx context.Context,
	s *statex.Session,
	reqs []contractx.ToolRequest,
	tools contractx.ToolInvoker,
	now func() time.Time,
	logger zerolog.Logger,
) error {
	for i, req := range reqs {
		payload, err := safeInvoke(ctx, tools, req)
		if err == nil {
			s.AppendToolResult(req.ID, req.Tool, clampToolContent(formatToolPayload(payload)), now())
			continue
		}

		logger.Warn().Err(err).Str("tool", req.Tool).Msg("tool invocation failed")
		s.AppendToolResult(req.ID, req.Tool, clampToolContent("error: "+err.Error()), now())

		if errors.Is(err, contractx.ErrConnection) || ctx.Err() != nil {
			// answer the remaining calls so the history stays well formed
			for _, rest := range reqs[i+1:] {
				s.AppendToolResult(rest.ID, rest.Tool, "error: not executed", now())
			}
			return err
		}
	}
	return nil
}

// clampToolContent cuts content to MaxToolResultBytes on a rune boundary and marks
// the cut.
func clampToolContent(content string) string {
	if len(content) <= MaxToolResultBytes {
		return content
	}
	cut := MaxToolResultBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n[truncated: kept %d of %d bytes]", content[:cut], cut, len(content))
}

func safeInvoke(ctx context.Context, tools contractx.ToolInvoker, req contractx.ToolRequest) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: tool=%s panic: %v", contractx.ErrToolFailed, req.Tool, rec)
		}
	}()
	return tools.Invoke(ctx, req.Tool, req.Args)
}

func toStateCalls(reqs []contractx.ToolRequest) []statex.ToolCall {
	calls := make([]statex.ToolCall, 0, len(reqs))
	for _, r := range reqs {
		args := "{}"
		if len(r.Args) > 0 {
			if raw, err := json.Marshal(r.Args); err == nil {
				args = string(raw)
			}
		}
		calls = append(calls, statex.ToolCall{ID: r.ID, Name: r.Tool, Arguments: args})
	}
	return calls
}

func formatToolPayload(v any) string {
	switch p := v.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(raw)
	}
}

func describe(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return contractx.FallbackMessage
	}
	return msg
}
