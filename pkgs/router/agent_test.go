package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gatelet/gatelet/pkgs/approvals"
	"github.com/gatelet/gatelet/pkgs/compositor"
	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/gatelet/gatelet/pkgs/notifications"
	"github.com/gatelet/gatelet/pkgs/policy"
	"github.com/gatelet/gatelet/pkgs/policy/api"
)

type allowEvaluator struct{}

func (allowEvaluator) Evaluate(_ context.Context, _ api.Request) (api.Response, error) {
	return api.Response{Decision: api.DecisionAllow}, nil
}

type denyEvaluator struct{}

func (denyEvaluator) Evaluate(_ context.Context, _ api.Request) (api.Response, error) {
	return api.Response{Decision: api.DecisionDenyAbort, Rationale: "nope"}, nil
}

type pingBackend struct{}

func (pingBackend) CallTool(_ context.Context, tool string, _ map[string]any) (*mcp.CallResult, error) {
	return &mcp.CallResult{StructuredContent: map[string]any{"tool": tool}}, nil
}

func (pingBackend) ListTools(_ context.Context) (mcp.Tools, error) {
	return mcp.Tools{{Name: "ping"}}, nil
}

func newTestAgent(evaluator policy.Evaluator) (*Agent, *compositor.Compositor) {

	comp := compositor.New()
	if err := comp.Mount("tools", compositor.InProcess(pingBackend{})); err != nil {
		panic(err)
	}

	buffer := notifications.New(comp)
	gw := policy.NewGateway(evaluator, comp, approvals.NewHub())

	return NewAgent(gw, comp, buffer), comp
}

func rpc(agent *Agent, body string) mcp.Message {

	w := httptest.NewRecorder()
	agent.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))

	msg := mcp.Message{}
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		panic(err)
	}

	return msg
}

func TestAgentRPC(t *testing.T) {

	Convey("Given an agent surface over an allowing gateway", t, func() {

		agent, _ := newTestAgent(allowEvaluator{})

		Convey("tools/call should dispatch through the gateway", func() {

			msg := rpc(agent, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"tools.ping","arguments":{}}}`)
			So(msg.Error, ShouldBeNil)

			res := mcp.CallResult{}
			So(json.Unmarshal(msg.Result, &res), ShouldBeNil)
			So(res.StructuredContent["tool"], ShouldEqual, "ping")
		})

		Convey("tools/list should return namespaced tools", func() {

			msg := rpc(agent, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
			So(msg.Error, ShouldBeNil)

			out := struct {
				Tools mcp.Tools `json:"tools"`
			}{}
			So(json.Unmarshal(msg.Result, &out), ShouldBeNil)
			So(len(out.Tools), ShouldEqual, 1)
			So(out.Tools[0].Name, ShouldEqual, "tools.ping")
		})

		Convey("An unknown method should get a method-not-found error", func() {
			msg := rpc(agent, `{"jsonrpc":"2.0","id":3,"method":"tools/nope"}`)
			So(msg.Error, ShouldNotBeNil)
			So(msg.Error.Code, ShouldEqual, -32601)
		})
	})

	Convey("Given an agent surface over a denying gateway", t, func() {

		agent, _ := newTestAgent(denyEvaluator{})

		Convey("tools/call should surface the stamped denial", func() {

			msg := rpc(agent, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"tools.ping"}}`)
			So(msg.Error, ShouldNotBeNil)

			kind, ok := policy.Detect(*msg.Error)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, policy.KindDenied)
		})
	})
}

func TestAgentNotifications(t *testing.T) {

	Convey("Given an agent surface with accumulated events", t, func() {

		agent, comp := newTestAgent(allowEvaluator{})

		comp.NotifyResourceUpdated("tools", "resource://foo")
		comp.RecordListChanged("tools")
		agent.buffer.HandleRawListChanged()

		get := func(path string) notifications.Batch {
			w := httptest.NewRecorder()
			agent.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			batch := notifications.Batch{}
			if err := json.Unmarshal(w.Body.Bytes(), &batch); err != nil {
				panic(err)
			}
			return batch
		}

		Convey("Peek should not drain the buffer", func() {
			So(len(get("/notifications?peek=true")), ShouldEqual, 1)
			So(len(get("/notifications?peek=true")), ShouldEqual, 1)
		})

		Convey("Poll should drain the buffer", func() {

			batch := get("/notifications")
			So(batch["tools"].Updated, ShouldResemble, []string{"resource://foo"})
			So(batch["tools"].ListChanged, ShouldBeTrue)

			So(len(get("/notifications")), ShouldEqual, 0)
		})
	})
}
