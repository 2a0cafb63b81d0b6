package dispatcher

// Actions accepted in a request payload.
const (
	ActionListTools        = "list_tools"
	ActionExecuteTool      = "execute_tool"
	ActionApproveTool      = "approve_tool"
	ActionApprovalRequired = "approval_required"
)

// Channel identifies which of the three outbound channels receives the
// routed outcome. Exactly one channel receives a message per request.
type Channel string

const (
	ChannelSuccess  Channel = "success"
	ChannelFailure  Channel = "failure"
	ChannelApproval Channel = "approval"
)

// Kind is the tagged outcome variant produced by the dispatcher.
type Kind int

const (
	// KindSuccess: zero-exit execution, tool listing, or rejected approval.
	KindSuccess Kind = iota
	// KindExitNonZero: the command completed with a non-zero exit code.
	// Not an error, but routed to the failure channel for caller convenience.
	KindExitNonZero
	// KindApprovalRequired: a pending approval was created instead of
	// executing.
	KindApprovalRequired
	// KindError: validation, not-found, render, transport, or configuration
	// failure.
	KindError
)

// Request is one inbound execution request. Envelope is the full caller
// message, preserved and echoed back untouched for correlation; Payload is
// its "payload" field.
type Request struct {
	Envelope map[string]interface{}
	Payload  map[string]interface{}
}

// FromEnvelope builds a Request from a raw caller envelope.
func FromEnvelope(envelope map[string]interface{}) Request {
	req := Request{Envelope: envelope}
	if payload, ok := envelope["payload"].(map[string]interface{}); ok {
		req.Payload = payload
	}
	return req
}

// Outcome is the single routed result of a dispatched request.
type Outcome struct {
	Kind     Kind
	Payload  map[string]interface{}
	Envelope map[string]interface{}
}

// Channel maps the outcome variant onto its outbound channel.
func (o Outcome) Channel() Channel {
	switch o.Kind {
	case KindApprovalRequired:
		return ChannelApproval
	case KindExitNonZero, KindError:
		return ChannelFailure
	default:
		return ChannelSuccess
	}
}

func stringField(payload map[string]interface{}, key string) string {
	value, _ := payload[key].(string)
	return value
}

func mapField(payload map[string]interface{}, key string) map[string]interface{} {
	value, _ := payload[key].(map[string]interface{})
	return value
}
