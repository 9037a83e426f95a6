package bus

import "time"

// Event kinds published by the feed engine. Subscribers filter by prefix
// ("feed.", "channel.", "session.").
const (
	KindRowsChanged      = "feed.rows_changed"
	KindMutationRejected = "feed.mutation_rejected"
	KindMutationAck      = "feed.mutation_ack"
	KindMarkRead         = "feed.mark_read"
	KindChannelStatus    = "channel.status_changed"
	KindChannelMessage   = "channel.message"
	KindChannelFailed    = "channel.failed"
	KindAuthInvalid      = "session.auth_invalid"
	KindLoggedOut        = "session.logged_out"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
