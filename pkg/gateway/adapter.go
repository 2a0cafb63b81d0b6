package gateway

import (
	"github.com/harun/toolbridge/pkg/dispatcher"
)

// Frame maps a routed outcome onto the wire format the host runtime expects:
// the original caller envelope with its payload replaced by the outcome
// payload, plus an "output" discriminator naming the channel. The dispatcher
// core stays free of any messaging concern; this adapter is the only place
// that knows the wire shape.
func Frame(outcome dispatcher.Outcome) map[string]interface{} {
	frame := make(map[string]interface{}, len(outcome.Envelope)+2)
	for k, v := range outcome.Envelope {
		frame[k] = v
	}
	frame["payload"] = outcome.Payload
	frame["output"] = string(outcome.Channel())
	return frame
}
