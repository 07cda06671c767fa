package api

import "fmt"

// Decision is the verdict of the policy evaluator for one call.
type Decision string

// The decisions an evaluator can return.
const (
	DecisionAllow        Decision = "allow"
	DecisionAsk          Decision = "ask"
	DecisionDenyContinue Decision = "deny_continue"
	DecisionDenyAbort    Decision = "deny_abort"
)

// Validate returns an error if the decision is not one of the known
// values. An unknown decision must never be treated as allow.
func (d Decision) Validate() error {

	switch d {
	case DecisionAllow, DecisionAsk, DecisionDenyContinue, DecisionDenyAbort:
		return nil
	default:
		return fmt.Errorf("unknown policy decision '%s'", string(d))
	}
}

// A Response is returned by the policy evaluator.
type Response struct {

	// Decision tells the gateway what to do with the call.
	Decision Decision `json:"decision"`

	// Rationale optionally explains the decision.
	Rationale string `json:"rationale,omitempty"`
}
