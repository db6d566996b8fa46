// Package channel multiplexes named method and event channels over a single
// envelope transport shared with the host.
package channel

// Envelope types.
const (
	TypeCall   = "call"
	TypeReply  = "reply"
	TypeListen = "listen"
	TypeCancel = "cancel"
	TypeEvent  = "event"
	TypeError  = "error"
	TypeEnd    = "end"
)

// Envelope is one message on the link. Replies and errors echo the ID of the
// request they answer.
type Envelope struct {
	Channel        string        `json:"channel"`
	Type           string        `json:"type"`
	ID             uint64        `json:"id,omitempty"`
	Method         string        `json:"method,omitempty"`
	Args           any           `json:"args,omitempty"`
	Result         any           `json:"result,omitempty"`
	Event          any           `json:"event,omitempty"`
	Error          *ErrorPayload `json:"error,omitempty"`
	NotImplemented bool          `json:"notImplemented,omitempty"`
}

// ErrorPayload is the typed failure carried by an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func replyTo(req Envelope) Envelope {
	return Envelope{Channel: req.Channel, Type: TypeReply, ID: req.ID}
}

func errorTo(req Envelope, code, message string, details any) Envelope {
	return Envelope{
		Channel: req.Channel,
		Type:    TypeError,
		ID:      req.ID,
		Error:   &ErrorPayload{Code: code, Message: message, Details: details},
	}
}

func notImplementedTo(req Envelope) Envelope {
	env := replyTo(req)
	env.NotImplemented = true
	return env
}
