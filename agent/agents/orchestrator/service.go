package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
	nodex "github.com/tanpawarit/Chative-Studio-Agent/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Studio-Agent/agent/state"
	metricsx "github.com/tanpawarit/Chative-Studio-Agent/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

type Config struct {
	MaxSteps           int           `split_words:"true" default:"10"`
	MaxConcurrentTurns int           `split_words:"true" default:"16"`
	TurnTimeout        time.Duration `split_words:"true" default:"2m"`
}

// Orchestrator runs conversation turns. Turns on one session are serialized; turns on
// different sessions run concurrently up to MaxConcurrentTurns.
type Orchestrator struct {
	store    statex.Store
	reasoner contractx.Reasoner
	tools    contractx.ToolInvoker

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	locks       *statex.SessionLocks
	slots       chan struct{}
	maxSteps    int
	turnTimeout time.Duration

	now func() time.Time
}

func New(
	store statex.Store,
	reasoner contractx.Reasoner,
	tools contractx.ToolInvoker,
	cfg Config,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if reasoner == nil {
		return nil, errors.New("reasoner is required")
	}
	if tools == nil {
		return nil, errors.New("tool invoker is required")
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = nodex.DefaultMaxSteps
	}
	concurrency := cfg.MaxConcurrentTurns
	if concurrency <= 0 {
		concurrency = 16
	}

	o := &Orchestrator{
		store:       store,
		reasoner:    reasoner,
		tools:       tools,
		locks:       statex.NewSessionLocks(),
		slots:       make(chan struct{}, concurrency),
		maxSteps:    maxSteps,
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleMessage runs one turn and classifies its result. It returns an error only for
// invalid input or when the session cannot be loaded or saved; everything that goes
// wrong inside the turn is reported through the Outcome.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (contractx.Outcome, error) {
	in := nodex.GraphInput{SessionID: sessionID, Text: text}
	st, err := nodex.ValidateRequest(in, o.now)
	if err != nil {
		return contractx.Outcome{}, err
	}

	// Session lock before slot: turns queued on a busy session must not hold slots.
	unlock, err := o.locks.Lock(ctx, st.SessionID)
	if err != nil {
		return contractx.Outcome{}, fmt.Errorf("lock session %s: %w", st.SessionID, err)
	}
	defer unlock()

	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return contractx.Outcome{}, fmt.Errorf("wait for turn slot: %w", ctx.Err())
	}
	defer func() { <-o.slots }()

	metricsx.TurnsInFlight.Inc()
	defer metricsx.TurnsInFlight.Dec()

	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{SessionID: st.SessionID, Text: st.Text})
	metricsx.TurnDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		log.Error().Err(err).Str("session_id", st.SessionID).Msg("turn failed")
		return contractx.Outcome{}, err
	}
	return out.Outcome, nil
}

// Outcome classifies the stored session without running a turn.
func (o *Orchestrator) Outcome(ctx context.Context, sessionID string) (contractx.Outcome, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return contractx.Outcome{}, ErrInvalidSession
	}

	s, err := o.store.Load(ctx, sessionID)
	if errors.Is(err, statex.ErrStateNotFound) {
		return contractx.FallbackOutcome(), nil
	}
	if err != nil {
		return contractx.Outcome{}, err
	}
	return contractx.Classify(s), nil
}

// Reset forgets a session. It waits for any turn running on it.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}

	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	return o.store.Delete(ctx, sessionID)
}
