package policy

import (
	"errors"

	"github.com/gatelet/gatelet/pkgs/mcp"
)

// Reserved JSON-RPC error codes and messages for the policy gateway.
// These live in a private range, away from the standard protocol
// codes. Only the gateway is allowed to author errors using them.
const (
	DeniedAbortCode    = -32950
	DeniedContinueCode = -32951
	ReservedMisuseCode = -32952
	EvaluatorErrorCode = -32953

	DeniedAbortMsg    = "policy_denied"
	DeniedContinueMsg = "policy_denied_continue"
	ReservedMisuseMsg = "policy_backend_reserved_misuse"
	EvaluatorErrorMsg = "policy_evaluator_error"

	// StampKey marks an error's data as gateway-authored. Only the
	// gateway ever sets it; a reserved code/message without it is
	// backend misuse.
	StampKey = "gatelet_policy_gateway"
)

// Kind classifies a gateway-authored error.
type Kind int

const (
	KindUnknown Kind = iota
	KindDenied
	KindDeniedContinue
	KindEvaluatorError
	KindReservedMisuse
)

func (k Kind) String() string {
	switch k {
	case KindDenied:
		return "denied"
	case KindDeniedContinue:
		return "denied_continue"
	case KindEvaluatorError:
		return "evaluator_error"
	case KindReservedMisuse:
		return "backend_reserved_misuse"
	default:
		return "unknown"
	}
}

type reservedPair struct {
	code    int
	message string
}

var reservedPairs = map[reservedPair]Kind{
	{DeniedAbortCode, DeniedAbortMsg}:       KindDenied,
	{DeniedContinueCode, DeniedContinueMsg}: KindDeniedContinue,
	{EvaluatorErrorCode, EvaluatorErrorMsg}: KindEvaluatorError,
	{ReservedMisuseCode, ReservedMisuseMsg}: KindReservedMisuse,
}

// reservedKind returns the Kind associated with the given (code,
// message) pair, or KindUnknown when the pair is not reserved.
func reservedKind(code int, message string) Kind {
	return reservedPairs[reservedPair{code, message}]
}

// IsReservedPair returns true if the given (code, message) pair is
// one the gateway reserves for its own signaling.
func IsReservedPair(code int, message string) bool {
	return reservedKind(code, message) != KindUnknown
}

func stamped(e mcp.Error) bool {
	if e.Data == nil {
		return false
	}
	v, ok := e.Data[StampKey].(bool)
	return ok && v
}

func stamp(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	data[StampKey] = true
	return data
}

// NewDeniedError returns the stamped error for a deny-abort decision.
func NewDeniedError(tool string, reason string) *mcp.RPCError {
	return mcp.NewRPCError(mcp.Error{
		Code:    DeniedAbortCode,
		Message: DeniedAbortMsg,
		Data:    stamp(map[string]any{"tool": tool, "reason": reason}),
	})
}

// NewDeniedContinueError returns the stamped error for a
// deny-continue decision.
func NewDeniedContinueError(tool string, reason string) *mcp.RPCError {
	return mcp.NewRPCError(mcp.Error{
		Code:    DeniedContinueCode,
		Message: DeniedContinueMsg,
		Data:    stamp(map[string]any{"tool": tool, "reason": reason}),
	})
}

// NewEvaluatorError returns the stamped error used when the policy
// evaluator itself failed, timed out, or produced garbage.
func NewEvaluatorError(tool string, reason string) *mcp.RPCError {
	return mcp.NewRPCError(mcp.Error{
		Code:    EvaluatorErrorCode,
		Message: EvaluatorErrorMsg,
		Data:    stamp(map[string]any{"tool": tool, "reason": reason}),
	})
}

// NewReservedMisuseError returns the stamped error the gateway
// substitutes when a backend's own error collides with the reserved
// plane.
func NewReservedMisuseError(tool string, backendCode int) *mcp.RPCError {
	return mcp.NewRPCError(mcp.Error{
		Code:    ReservedMisuseCode,
		Message: ReservedMisuseMsg,
		Data:    stamp(map[string]any{"tool": tool, "backend_code": backendCode}),
	})
}

// coerce functions: one per error representation the detection helper
// accepts. Each extracts a minimally-typed code+message shape, or
// reports that it could not.

func coerceError(e mcp.Error) (mcp.Error, bool) {
	return e, true
}

func coerceResult(r *mcp.CallResult) (mcp.Error, bool) {
	if r == nil || !r.IsError || r.Error == nil {
		return mcp.Error{}, false
	}
	return *r.Error, true
}

func coerceMap(m map[string]any) (mcp.Error, bool) {

	code, okc := toInt(m["code"])
	msg, okm := m["message"].(string)
	if !okc || !okm {
		return mcp.Error{}, false
	}

	e := mcp.Error{Code: code, Message: msg}
	if data, ok := m["data"].(map[string]any); ok {
		e.Data = data
	}

	return e, true
}

func coerceGoError(err error) (mcp.Error, bool) {
	var rpcErr *mcp.RPCError
	if !errors.As(err, &rpcErr) {
		return mcp.Error{}, false
	}
	return rpcErr.ErrorData(), true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Detect inspects any of the supported error representations and
// returns the Kind of the gateway-authored error it carries. It
// returns false, never a guess, when no code+message shape is
// extractable, when the pair is not reserved, or when the genuine
// stamp is missing. Only stamped reserved pairs count as
// gateway-authored.
func Detect(v any) (Kind, bool) {

	var e mcp.Error
	var ok bool

	switch c := v.(type) {
	case mcp.Error:
		e, ok = coerceError(c)
	case *mcp.Error:
		if c != nil {
			e, ok = coerceError(*c)
		}
	case *mcp.CallResult:
		e, ok = coerceResult(c)
	case map[string]any:
		e, ok = coerceMap(c)
	case error:
		e, ok = coerceGoError(c)
	}

	if !ok {
		return KindUnknown, false
	}

	kind := reservedKind(e.Code, e.Message)
	if kind == KindUnknown || !stamped(e) {
		return KindUnknown, false
	}

	return kind, true
}

// RewrapBackendError decides what to do with an error that came back
// from a backend. If the error collides with the reserved plane, or
// carries a forged stamp, it returns the substitute misuse error the
// gateway must surface instead. It returns nil when the error is
// harmless and must pass through unmodified.
func RewrapBackendError(e mcp.Error, tool string) *mcp.RPCError {

	if !IsReservedPair(e.Code, e.Message) && !stamped(e) {
		return nil
	}

	return NewReservedMisuseError(tool, e.Code)
}
