package handlers

import "PPRelay/service/chat"

// RegisterAll installs every inbound event handler on d.
func RegisterAll(d *chat.Dispatcher) {
	for _, h := range []chat.Handler{
		NewJoinHandler(),
		NewSendMessageHandler(),
		NewEditMessageHandler(),
		NewDeleteMessageHandler(),
		NewTypingHandler(),
		NewStopTypingHandler(),
		NewDeliveredHandler(),
		NewSeenHandler(),
		NewCallHandler(),
		NewCancelCallHandler(),
		NewAcceptCallHandler(),
		NewDeclineCallHandler(),
		NewEndCallHandler(),
		NewSignalHandler(),
	} {
		d.Register(h)
	}
}
