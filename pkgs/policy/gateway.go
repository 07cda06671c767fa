package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid"

	"github.com/gatelet/gatelet/pkgs/approvals"
	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/gatelet/gatelet/pkgs/policy/api"
)

const defaultEvalTimeout = 30 * time.Second

type gwcfg struct {
	sink        approvals.Sink
	evalTimeout time.Duration
	onDecision  func(api.Decision)
}

// A GatewayOption can be passed to NewGateway.
type GatewayOption func(*gwcfg)

// OptGatewayAuditSink sets the audit sink outcomes are written to.
// The default is an in-memory sink.
func OptGatewayAuditSink(sink approvals.Sink) GatewayOption {
	return func(c *gwcfg) {
		c.sink = sink
	}
}

// OptGatewayEvaluationTimeout bounds a single evaluator invocation.
// An evaluator that exceeds it is treated as failed.
func OptGatewayEvaluationTimeout(d time.Duration) GatewayOption {
	return func(c *gwcfg) {
		if d > 0 {
			c.evalTimeout = d
		}
	}
}

// OptGatewayDecisionHook sets a function called with every decision
// the evaluator returns.
func OptGatewayDecisionHook(f func(api.Decision)) GatewayOption {
	return func(c *gwcfg) {
		c.onDecision = f
	}
}

// A Gateway is the unconditional gate in front of every dispatch. It
// runs the evaluator, branches on the decision, suspends on ask, and
// guarantees that a denial or evaluator-error response can only ever
// have originated here.
type Gateway struct {
	evaluator   Evaluator
	dispatcher  Dispatcher
	hub         *approvals.Hub
	sink        approvals.Sink
	evalTimeout time.Duration
	onDecision  func(api.Decision)
}

// NewGateway returns a new Gateway gating the given dispatcher behind
// the given evaluator, using the given hub for ask resolutions.
func NewGateway(evaluator Evaluator, dispatcher Dispatcher, hub *approvals.Hub, opts ...GatewayOption) *Gateway {

	c := gwcfg{
		sink:        approvals.NewMemorySink(),
		evalTimeout: defaultEvalTimeout,
	}
	for _, o := range opts {
		o(&c)
	}

	return &Gateway{
		evaluator:   evaluator,
		dispatcher:  dispatcher,
		hub:         hub,
		sink:        c.sink,
		evalTimeout: c.evalTimeout,
		onDecision:  c.onDecision,
	}
}

// Hub returns the approval hub the gateway suspends on.
func (g *Gateway) Hub() *approvals.Hub {
	return g.hub
}

// Sink returns the audit sink outcomes are written to.
func (g *Gateway) Sink() approvals.Sink {
	return g.sink
}

// CallTool evaluates the policy for the given tool call and, when the
// decision permits, dispatches it. Denials never reach the backend.
func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {

	callID := uuid.Must(uuid.NewV6()).String()
	call := approvals.ToolCall{Name: name, Arguments: args}

	ectx, cancel := context.WithTimeout(ctx, g.evalTimeout)
	resp, err := g.evaluator.Evaluate(ectx, api.Request{Tool: name, Arguments: args})
	cancel()

	if err != nil {
		slog.Warn("Policy evaluation failed", "tool", name, "err", err)
		return nil, NewEvaluatorError(name, err.Error())
	}

	if g.onDecision != nil {
		g.onDecision(resp.Decision)
	}

	switch resp.Decision {

	case api.DecisionAllow:
		g.record(ctx, callID, call, approvals.OutcomeAllowed, resp.Rationale)
		return g.dispatch(ctx, name, args)

	case api.DecisionAsk:
		return g.ask(ctx, callID, call, resp.Rationale)

	case api.DecisionDenyContinue:
		g.record(ctx, callID, call, approvals.OutcomeRejected, resp.Rationale)
		return nil, NewDeniedContinueError(name, resp.Rationale)

	case api.DecisionDenyAbort:
		g.record(ctx, callID, call, approvals.OutcomeDenied, resp.Rationale)
		return nil, NewDeniedError(name, resp.Rationale)

	default:
		return nil, NewEvaluatorError(name, fmt.Sprintf("unknown decision '%s'", resp.Decision))
	}
}

func (g *Gateway) ask(ctx context.Context, callID string, call approvals.ToolCall, rationale string) (*mcp.CallResult, error) {

	res, err := g.hub.Ask(ctx, callID, call)
	if err != nil {

		if errors.Is(err, approvals.ErrAskAborted) {
			g.record(ctx, callID, call, approvals.OutcomeAborted, ctx.Err().Error())
		}

		return nil, fmt.Errorf("unable to wait for approval: %w", err)
	}

	switch res.Kind {

	case approvals.ResolutionContinue:
		g.record(ctx, callID, call, approvals.OutcomeApproved, res.Reason)
		return g.dispatch(ctx, call.Name, call.Arguments)

	case approvals.ResolutionDenyContinue:
		g.record(ctx, callID, call, approvals.OutcomeRejected, res.Reason)
		return nil, NewDeniedContinueError(call.Name, res.Reason)

	case approvals.ResolutionAbort:
		g.record(ctx, callID, call, approvals.OutcomeDenied, res.Reason)
		return nil, NewDeniedError(call.Name, res.Reason)

	default:
		return nil, fmt.Errorf("unknown resolution kind '%d'", res.Kind)
	}
}

// dispatch forwards the call to the backend and guards its reply
// against reserved-plane collisions.
func (g *Gateway) dispatch(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {

	res, err := g.dispatcher.Dispatch(ctx, name, args)

	if err != nil {

		var rpcErr *mcp.RPCError
		if errors.As(err, &rpcErr) {
			if substitute := RewrapBackendError(rpcErr.ErrorData(), name); substitute != nil {
				slog.Warn("Backend error collided with reserved plane", "tool", name, "code", rpcErr.ErrorData().Code)
				return nil, substitute
			}
		}

		return nil, err
	}

	if res != nil && res.IsError && res.Error != nil {
		if substitute := RewrapBackendError(*res.Error, name); substitute != nil {
			slog.Warn("Backend error collided with reserved plane", "tool", name, "code", res.Error.Code)
			return nil, substitute
		}
	}

	return res, nil
}

func (g *Gateway) record(ctx context.Context, callID string, call approvals.ToolCall, outcome approvals.Outcome, reason string) {

	r := approvals.Record{
		CallID:    callID,
		Call:      call,
		Outcome:   outcome,
		Reason:    reason,
		Timestamp: time.Now(),
	}

	if err := g.sink.Record(context.WithoutCancel(ctx), r); err != nil {
		slog.Error("Unable to record approval outcome", "call", callID, "outcome", outcome, "err", err)
	}
}
