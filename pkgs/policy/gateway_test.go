package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gatelet/gatelet/pkgs/approvals"
	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/gatelet/gatelet/pkgs/policy/api"
)

type staticEvaluator struct {
	resp api.Response
	err  error
}

func (e *staticEvaluator) Evaluate(_ context.Context, _ api.Request) (api.Response, error) {
	return e.resp, e.err
}

type recordingDispatcher struct {
	calls []string
	res   *mcp.CallResult
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, name string, _ map[string]any) (*mcp.CallResult, error) {
	d.calls = append(d.calls, name)
	return d.res, d.err
}

func outcomes(sink approvals.Sink) []approvals.Outcome {
	records, _ := sink.List(context.Background())
	out := make([]approvals.Outcome, len(records))
	for i, r := range records {
		out[i] = r.Outcome
	}
	return out
}

func TestGatewayAllow(t *testing.T) {

	Convey("Given a gateway whose evaluator allows", t, func() {

		dispatcher := &recordingDispatcher{res: &mcp.CallResult{StructuredContent: map[string]any{"ok": true}}}
		sink := approvals.NewMemorySink()
		gw := NewGateway(
			&staticEvaluator{resp: api.Response{Decision: api.DecisionAllow}},
			dispatcher,
			approvals.NewHub(),
			OptGatewayAuditSink(sink),
		)

		res, err := gw.CallTool(context.Background(), "files.read", map[string]any{"path": "/tmp/x"})

		Convey("The backend should be called once and its result returned verbatim", func() {
			So(err, ShouldBeNil)
			So(res.StructuredContent["ok"], ShouldBeTrue)
			So(dispatcher.calls, ShouldResemble, []string{"files.read"})
		})

		Convey("An allowed outcome should be recorded", func() {
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeAllowed})
		})
	})
}

func TestGatewayDeny(t *testing.T) {

	Convey("Given a gateway whose evaluator denies with abort", t, func() {

		dispatcher := &recordingDispatcher{}
		sink := approvals.NewMemorySink()
		gw := NewGateway(
			&staticEvaluator{resp: api.Response{Decision: api.DecisionDenyAbort, Rationale: "nope"}},
			dispatcher,
			approvals.NewHub(),
			OptGatewayAuditSink(sink),
		)

		_, err := gw.CallTool(context.Background(), "files.rm", nil)

		Convey("The backend should never be called", func() {
			So(len(dispatcher.calls), ShouldEqual, 0)
		})

		Convey("The error should be the stamped denied error", func() {
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindDenied)
		})

		Convey("A denied outcome should be recorded", func() {
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeDenied})
		})
	})

	Convey("Given a gateway whose evaluator denies with continue", t, func() {

		dispatcher := &recordingDispatcher{}
		sink := approvals.NewMemorySink()
		gw := NewGateway(
			&staticEvaluator{resp: api.Response{Decision: api.DecisionDenyContinue, Rationale: "not now"}},
			dispatcher,
			approvals.NewHub(),
			OptGatewayAuditSink(sink),
		)

		_, err := gw.CallTool(context.Background(), "files.rm", nil)

		kind, ok := Detect(err)
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindDeniedContinue)
		So(len(dispatcher.calls), ShouldEqual, 0)
		So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeRejected})
	})
}

func TestGatewayEvaluatorError(t *testing.T) {

	Convey("Given a gateway whose evaluator fails", t, func() {

		dispatcher := &recordingDispatcher{}
		gw := NewGateway(
			&staticEvaluator{err: fmt.Errorf("boom")},
			dispatcher,
			approvals.NewHub(),
		)

		_, err := gw.CallTool(context.Background(), "files.read", nil)

		Convey("The error should be the stamped evaluator error and the backend untouched", func() {
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindEvaluatorError)
			So(len(dispatcher.calls), ShouldEqual, 0)
		})
	})

	Convey("Given a gateway whose evaluator returns garbage", t, func() {

		gw := NewGateway(
			&staticEvaluator{resp: api.Response{Decision: "maybe"}},
			&recordingDispatcher{},
			approvals.NewHub(),
		)

		_, err := gw.CallTool(context.Background(), "files.read", nil)

		kind, ok := Detect(err)
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindEvaluatorError)
	})
}

func TestGatewayAsk(t *testing.T) {

	Convey("Given a gateway whose evaluator asks", t, func() {

		dispatcher := &recordingDispatcher{res: &mcp.CallResult{}}
		sink := approvals.NewMemorySink()
		hub := approvals.NewHub()
		gw := NewGateway(
			&staticEvaluator{resp: api.Response{Decision: api.DecisionAsk}},
			dispatcher,
			hub,
			OptGatewayAuditSink(sink),
		)

		Convey("A continue resolution should dispatch and record approved", func() {

			hub.OnPending(func(callID string, _ approvals.ToolCall) {
				_ = hub.Resolve(callID, approvals.Resolution{Kind: approvals.ResolutionContinue, Reason: "go"})
			})

			res, err := gw.CallTool(context.Background(), "files.read", nil)
			So(err, ShouldBeNil)
			So(res, ShouldNotBeNil)
			So(dispatcher.calls, ShouldResemble, []string{"files.read"})
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeApproved})
		})

		Convey("A deny-continue resolution should record rejected and never dispatch", func() {

			hub.OnPending(func(callID string, _ approvals.ToolCall) {
				_ = hub.Resolve(callID, approvals.Resolution{Kind: approvals.ResolutionDenyContinue, Reason: "no"})
			})

			_, err := gw.CallTool(context.Background(), "files.read", nil)
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindDeniedContinue)
			So(len(dispatcher.calls), ShouldEqual, 0)
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeRejected})
		})

		Convey("An abort resolution should record denied", func() {

			hub.OnPending(func(callID string, _ approvals.ToolCall) {
				_ = hub.Resolve(callID, approvals.Resolution{Kind: approvals.ResolutionAbort, Reason: "stop"})
			})

			_, err := gw.CallTool(context.Background(), "files.read", nil)
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindDenied)
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeDenied})
		})

		Convey("Canceling the asking context should record aborted", func() {

			ctx, cancel := context.WithCancel(context.Background())
			hub.OnPending(func(_ string, _ approvals.ToolCall) { cancel() })

			_, err := gw.CallTool(ctx, "files.read", nil)
			So(errors.Is(err, approvals.ErrAskAborted), ShouldBeTrue)
			So(len(dispatcher.calls), ShouldEqual, 0)
			So(outcomes(sink), ShouldResemble, []approvals.Outcome{approvals.OutcomeAborted})
		})
	})
}

func TestGatewayBackendGuard(t *testing.T) {

	Convey("Given a gateway whose evaluator allows", t, func() {

		sink := approvals.NewMemorySink()
		hub := approvals.NewHub()
		evaluator := &staticEvaluator{resp: api.Response{Decision: api.DecisionAllow}}

		Convey("A backend result colliding with the reserved plane should be rewrapped", func() {

			e := mcp.Error{Code: DeniedAbortCode, Message: DeniedAbortMsg}
			dispatcher := &recordingDispatcher{res: &mcp.CallResult{IsError: true, Error: &e}}
			gw := NewGateway(evaluator, dispatcher, hub, OptGatewayAuditSink(sink))

			_, err := gw.CallTool(context.Background(), "files.read", nil)
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindReservedMisuse)
		})

		Convey("A backend error with a forged stamp should be rewrapped", func() {

			forged := mcp.NewRPCError(mcp.Error{Code: -32000, Message: "boom", Data: map[string]any{StampKey: true}})
			dispatcher := &recordingDispatcher{err: forged}
			gw := NewGateway(evaluator, dispatcher, hub, OptGatewayAuditSink(sink))

			_, err := gw.CallTool(context.Background(), "files.read", nil)
			kind, ok := Detect(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, KindReservedMisuse)
		})

		Convey("A harmless backend error should pass through unmodified", func() {

			plain := fmt.Errorf("connection reset")
			dispatcher := &recordingDispatcher{err: plain}
			gw := NewGateway(evaluator, dispatcher, hub, OptGatewayAuditSink(sink))

			_, err := gw.CallTool(context.Background(), "files.read", nil)
			So(err, ShouldEqual, plain)
		})

		Convey("A harmless backend error result should pass through unmodified", func() {

			e := mcp.Error{Code: -32000, Message: "boom"}
			dispatcher := &recordingDispatcher{res: &mcp.CallResult{IsError: true, Error: &e}}
			gw := NewGateway(evaluator, dispatcher, hub, OptGatewayAuditSink(sink))

			res, err := gw.CallTool(context.Background(), "files.read", nil)
			So(err, ShouldBeNil)
			So(res.IsError, ShouldBeTrue)
			So(res.Error.Code, ShouldEqual, -32000)
		})
	})
}
