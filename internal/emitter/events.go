package emitter

// Event names shared across the service. Listeners are registered at startup;
// the lists are never mutated afterwards.
const (
	// EventMessageCreated fires after a message row and its index are persisted.
	// Args: *model.Message.
	EventMessageCreated = "message.created"

	// EventMessageUpdated fires after a body rewrite. Args: *model.Message.
	EventMessageUpdated = "message.updated"

	// EventMessageDeleted fires with the actual delete type that occurred.
	// Args: boxID string, created int64, model.DeleteType.
	EventMessageDeleted = "message.deleted"

	// EventInvitationCreated fires on invite upsert. Args: *model.Invitation.
	EventInvitationCreated = "invitation.created"

	// EventInvitationAccepted fires once the whole accept batch committed.
	// Args: invitationHashes []string,
	// memberChangeInfosByResourceID map[string]*model.MemberChangeInfo,
	// inviterUsersByID map[string]string.
	EventInvitationAccepted = "invitation.accepted"

	// EventInvitationAcceptedRemote carries an accept batch replayed from the
	// MQ fan-out topic. Same args as EventInvitationAccepted; listeners that
	// must see accepts from other nodes register for both.
	EventInvitationAcceptedRemote = "invitation.accepted.remote"

	// EventStreamAcknowledged fires when a recipient reads a stream, resetting
	// aggregation pointers. Args: recipientID string, model.StreamType.
	EventStreamAcknowledged = "stream.acknowledged"
)
