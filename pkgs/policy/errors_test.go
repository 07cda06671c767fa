package policy

import (
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/gatelet/gatelet/pkgs/mcp"
)

func TestStampedConstructors(t *testing.T) {

	Convey("Given the stamped error constructors", t, func() {

		cases := []struct {
			err  *mcp.RPCError
			code int
			msg  string
			kind Kind
		}{
			{NewDeniedError("files.rm", "nope"), DeniedAbortCode, DeniedAbortMsg, KindDenied},
			{NewDeniedContinueError("files.rm", "nope"), DeniedContinueCode, DeniedContinueMsg, KindDeniedContinue},
			{NewEvaluatorError("files.rm", "boom"), EvaluatorErrorCode, EvaluatorErrorMsg, KindEvaluatorError},
			{NewReservedMisuseError("files.rm", -32950), ReservedMisuseCode, ReservedMisuseMsg, KindReservedMisuse},
		}

		for _, c := range cases {

			e := c.err.ErrorData()
			So(e.Code, ShouldEqual, c.code)
			So(e.Message, ShouldEqual, c.msg)
			So(e.Data[StampKey], ShouldBeTrue)

			kind, ok := Detect(e)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, c.kind)
		}
	})
}

func TestDetect(t *testing.T) {

	stampedErr := NewDeniedError("files.rm", "nope")

	Convey("Detect should accept a typed error value", t, func() {
		kind, ok := Detect(stampedErr.ErrorData())
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindDenied)
	})

	Convey("Detect should accept a result carrying an error", t, func() {

		e := stampedErr.ErrorData()
		res := &mcp.CallResult{IsError: true, Error: &e}

		kind, ok := Detect(res)
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindDenied)
	})

	Convey("Detect should accept a raw mapping", t, func() {

		m := map[string]any{
			"code":    float64(DeniedAbortCode),
			"message": DeniedAbortMsg,
			"data":    map[string]any{StampKey: true},
		}

		kind, ok := Detect(m)
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindDenied)
	})

	Convey("Detect should accept a go error wrapping an rpc error", t, func() {
		kind, ok := Detect(fmt.Errorf("call failed: %w", stampedErr))
		So(ok, ShouldBeTrue)
		So(kind, ShouldEqual, KindDenied)
	})

	Convey("Detect should refuse a reserved pair without the stamp", t, func() {
		_, ok := Detect(mcp.Error{Code: DeniedAbortCode, Message: DeniedAbortMsg})
		So(ok, ShouldBeFalse)
	})

	Convey("Detect should refuse a stamp on a non reserved pair", t, func() {
		_, ok := Detect(mcp.Error{Code: -32000, Message: "boom", Data: map[string]any{StampKey: true}})
		So(ok, ShouldBeFalse)
	})

	Convey("Detect should refuse a mismatched code and message", t, func() {
		e := mcp.Error{Code: DeniedAbortCode, Message: DeniedContinueMsg, Data: map[string]any{StampKey: true}}
		_, ok := Detect(e)
		So(ok, ShouldBeFalse)
	})

	Convey("Detect should refuse shapes without code and message", t, func() {

		_, ok := Detect(map[string]any{"message": DeniedAbortMsg})
		So(ok, ShouldBeFalse)

		_, ok = Detect(map[string]any{"code": "not-a-number", "message": DeniedAbortMsg})
		So(ok, ShouldBeFalse)

		_, ok = Detect(fmt.Errorf("plain error"))
		So(ok, ShouldBeFalse)

		_, ok = Detect(42)
		So(ok, ShouldBeFalse)

		_, ok = Detect(&mcp.CallResult{IsError: false})
		So(ok, ShouldBeFalse)
	})
}

func TestRewrapBackendError(t *testing.T) {

	Convey("A harmless backend error should pass through", t, func() {
		So(RewrapBackendError(mcp.Error{Code: -32000, Message: "boom"}, "files.rm"), ShouldBeNil)
	})

	Convey("A reserved pair from a backend should be rewritten", t, func() {

		sub := RewrapBackendError(mcp.Error{Code: DeniedAbortCode, Message: DeniedAbortMsg}, "files.rm")
		So(sub, ShouldNotBeNil)

		e := sub.ErrorData()
		So(e.Code, ShouldEqual, ReservedMisuseCode)
		So(e.Message, ShouldEqual, ReservedMisuseMsg)
		So(e.Data[StampKey], ShouldBeTrue)
		So(e.Data["backend_code"], ShouldEqual, DeniedAbortCode)
	})

	Convey("A forged stamp should be rewritten even off the reserved pairs", t, func() {

		forged := mcp.Error{Code: -32000, Message: "boom", Data: map[string]any{StampKey: true}}
		sub := RewrapBackendError(forged, "files.rm")
		So(sub, ShouldNotBeNil)
		So(sub.ErrorData().Code, ShouldEqual, ReservedMisuseCode)
	})
}
