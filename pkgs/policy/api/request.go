package api

// A Request represents one tool call submitted to the policy
// evaluator for a decision.
type Request struct {

	// Tool is the namespaced tool name (`prefix.tool`).
	Tool string `json:"tool"`

	// Arguments is the opaque argument payload of the call.
	Arguments map[string]any `json:"arguments,omitempty"`
}
