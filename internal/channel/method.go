package channel

import (
	"context"

	"platformbridge/internal/dispatch"
	"platformbridge/internal/logger"
)

// MethodChannel answers call envelopes with the dispatcher's result.
type MethodChannel struct {
	name       string
	messenger  *Messenger
	dispatcher *dispatch.Dispatcher
}

// NewMethodChannel registers a method channel on messenger.
func NewMethodChannel(name string, messenger *Messenger, dispatcher *dispatch.Dispatcher) (*MethodChannel, error) {
	mc := &MethodChannel{name: name, messenger: messenger, dispatcher: dispatcher}
	if err := messenger.Register(name, mc); err != nil {
		return nil, err
	}
	return mc, nil
}

// Name returns the channel name.
func (mc *MethodChannel) Name() string { return mc.name }

// HandleEnvelope dispatches a call and replies with the same ID.
func (mc *MethodChannel) HandleEnvelope(ctx context.Context, env Envelope) {
	if env.Type != TypeCall {
		log := logger.WithComponent("method-channel")
		log.Debug().
			Str("channel", mc.name).
			Str("type", env.Type).
			Msg("Ignoring non-call envelope")
		return
	}

	res := mc.dispatcher.Dispatch(ctx, dispatch.Command{
		Name:      env.Method,
		Arguments: toArguments(env.Args),
	})

	var out Envelope
	switch res.Disposition {
	case dispatch.DispositionSuccess:
		out = replyTo(env)
		out.Result = res.Value
	case dispatch.DispositionFailure:
		out = errorTo(env, res.Code, res.Message, res.Details)
	default:
		out = notImplementedTo(env)
	}
	mc.messenger.reply(out)
}

// toArguments accepts only a JSON object; anything else means no arguments.
func toArguments(v any) dispatch.Arguments {
	switch args := v.(type) {
	case map[string]any:
		return dispatch.Arguments(args)
	case dispatch.Arguments:
		return args
	default:
		return dispatch.Arguments{}
	}
}
