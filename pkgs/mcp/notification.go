package mcp

// Methods of the notifications the gateway relays.
const (
	MethodResourceUpdated     = "notifications/resources/updated"
	MethodResourceListChanged = "notifications/resources/list_changed"
)
