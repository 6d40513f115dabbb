package protocol

// MessageStatus represents message delivery status
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// statusRank orders the lifecycle. Status is monotonic: it only ever moves to
// a strictly higher rank, so duplicates and stale receipts are no-ops.
var statusRank = map[MessageStatus]int{
	MessageStatusSent:      0,
	MessageStatusQueued:    1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// IsValidStatus reports whether s is a known lifecycle status
func IsValidStatus(s MessageStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a message may move from one status to the
// next. The legal transition set is exactly:
//
//	sent → queued → delivered → read
//	sent → delivered → read
//	sent|queued|delivered → read (a read receipt implies delivery)
//
// Everything else, including every regression, is rejected.
func CanTransition(from, to MessageStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}

	if toRank <= fromRank {
		return false
	}

	// queued is only reachable from sent
	if to == MessageStatusQueued && from != MessageStatusSent {
		return false
	}

	return true
}
