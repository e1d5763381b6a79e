package models

// Chat domain models shared between the client library, the persistence
// layer, and the development server.

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderSelf   Sender = "me"
	SenderRemote Sender = "bot"
	SenderSystem Sender = "system"
)

// Status tracks delivery of a locally originated message. It is only
// meaningful for SenderSelf messages; an empty status means confirmed,
// which is what restored and remote messages carry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Message is a single chat message. ID is client-generated and unique
// within a conversation; it doubles as the correlation id when the
// message originates locally.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	CreatedAt int64  `json:"createdAt"` // epoch milliseconds
	Status    Status `json:"status,omitempty"`
}

// DeliveryStatus resolves the effective status: messages persisted before
// status tracking existed, and all remote/system messages, count as
// confirmed.
func (m Message) DeliveryStatus() Status {
	if m.Status == "" {
		return StatusConfirmed
	}
	return m.Status
}

// Valid reports whether a restored message has a usable shape. Entries
// failing this check are discarded during restore rather than failing
// the whole snapshot.
func (m Message) Valid() bool {
	if m.ID == "" || m.Text == "" || m.CreatedAt <= 0 {
		return false
	}
	switch m.Sender {
	case SenderSelf, SenderRemote, SenderSystem:
		return true
	}
	return false
}

// Frame is the JSON text frame exchanged with the chat backend over the
// websocket. A frame carrying a cid that matches an outstanding request
// is a correlated reply; any other frame with a message and timestamp is
// an unsolicited push.
type Frame struct {
	CID       string `json:"cid,omitempty"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"createdAt"` // epoch milliseconds
}
