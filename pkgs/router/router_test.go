package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func testStore() *TokenStore {

	store, err := NewTokenStore(map[string]TokenInfo{
		"human-token": {Role: RoleHuman},
		"agent-one":   {Role: RoleAgent, AgentID: "one"},
		"agent-two":   {Role: RoleAgent, AgentID: "two"},
	})
	if err != nil {
		panic(err)
	}

	return store
}

func TestTokenInfoValidate(t *testing.T) {

	Convey("Validation should enforce role and agent id consistency", t, func() {

		So(TokenInfo{Role: RoleHuman}.Validate(), ShouldBeNil)
		So(TokenInfo{Role: RoleAgent, AgentID: "one"}.Validate(), ShouldBeNil)

		So(TokenInfo{Role: RoleHuman, AgentID: "one"}.Validate(), ShouldNotBeNil)
		So(TokenInfo{Role: RoleAgent}.Validate(), ShouldNotBeNil)
		So(TokenInfo{Role: "robot"}.Validate(), ShouldNotBeNil)
	})

	Convey("NewTokenStore should reject invalid entries", t, func() {
		_, err := NewTokenStore(map[string]TokenInfo{"t": {Role: "robot"}})
		So(err, ShouldNotBeNil)
	})
}

func TestRouterAdmission(t *testing.T) {

	Convey("Given a router over a token store", t, func() {

		management := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("management"))
		})

		var ensured int32
		runtimes := RuntimeManagerFunc(func(_ context.Context, agentID string) (http.Handler, error) {
			atomic.AddInt32(&ensured, 1)
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("agent:" + agentID))
			}), nil
		})

		rt := New(testStore(), management, runtimes)

		do := func(authorization string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/anything", nil)
			if authorization != "" {
				req.Header.Set("Authorization", authorization)
			}
			w := httptest.NewRecorder()
			rt.ServeHTTP(w, req)
			return w
		}

		Convey("A missing header should get 401 with a bearer hint", func() {
			w := do("")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(w.Header().Get("WWW-Authenticate"), ShouldEqual, "Bearer")
		})

		Convey("A malformed header should get 401", func() {
			So(do("Basic dXNlcjpwYXNz").Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("An unknown token should get 401", func() {
			w := do("Bearer nobody")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			So(w.Header().Get("WWW-Authenticate"), ShouldEqual, "Bearer")
		})

		Convey("A human token should route to the management surface", func() {
			w := do("Bearer human-token")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, "management")
		})

		Convey("An agent token should route to its own runtime", func() {

			w := do("Bearer agent-one")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldEqual, "agent:one")

			Convey("Repeated requests should reuse the cached handle", func() {
				So(do("Bearer agent-one").Body.String(), ShouldEqual, "agent:one")
				So(do("Bearer agent-one").Body.String(), ShouldEqual, "agent:one")
				So(atomic.LoadInt32(&ensured), ShouldEqual, 1)
			})

			Convey("Distinct agents should get distinct runtimes", func() {
				So(do("Bearer agent-two").Body.String(), ShouldEqual, "agent:two")
				So(atomic.LoadInt32(&ensured), ShouldEqual, 2)
			})
		})
	})
}
