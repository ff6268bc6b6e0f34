package chat

// Relay fans message events out to the two parties of a conversation. It is
// called after the collaborator has persisted the change; nothing here is
// stored or retried.
type Relay struct {
	emit *Emitter
}

func NewRelay(emit *Emitter) *Relay { return &Relay{emit: emit} }

// RelayNew delivers new-message to every connection of the receiver and of the
// sender, so the sender's other devices see the message too. message is
// forwarded verbatim.
func (r *Relay) RelayNew(senderID, receiverID string, message any) int {
	return r.emit.ToUsers([]string{receiverID, senderID}, TypeNewMessage, message)
}

func (r *Relay) RelayEdited(id, content, from, receiverID string) int {
	return r.emit.ToUser(receiverID, TypeMsgEdited, EditedPayload{ID: id, Content: content, From: from})
}

func (r *Relay) RelayDeleted(id, from, receiverID string) int {
	return r.emit.ToUser(receiverID, TypeMsgDeleted, DeletedPayload{ID: id, From: from})
}
