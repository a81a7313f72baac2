package orchestration

import "github.com/koscakluka/ema-chat/core/events"

type eventEmitter func(events.Event)

func newCallbackEventEmitter(opts callbacks) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.StateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(State(typedEvent.To))
			}
		case events.TurnStarted:
			if opts.onTurnStarted != nil {
				opts.onTurnStarted(typedEvent.UserText)
			}
		case events.AssistantResponseSegment:
			if opts.onResponse != nil {
				opts.onResponse(typedEvent.Segment)
			}
		case events.TurnCompleted:
			if opts.onResponseEnd != nil {
				opts.onResponseEnd(typedEvent.Reply, typedEvent.Metrics)
			}
		case events.TurnFailed:
			if opts.onTurnFailed != nil {
				opts.onTurnFailed(typedEvent.Reply, typedEvent.Err)
			}
		}

		if opts.onEvent != nil {
			opts.onEvent(event)
		}
	}
}
