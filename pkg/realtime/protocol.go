package realtime

// Client to server message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
)

// Server to client message types.
const (
	MsgStatus = "status"
	MsgError  = "error"
	MsgChange = "change"
)

const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusUnsubscribed = "UNSUBSCRIBED"
)

// ClientMessage is sent by a feed client.
type ClientMessage struct {
	Type   string    `json:"type"`
	Topic  string    `json:"topic,omitempty"`
	Event  EventType `json:"event,omitempty"`
	Filter string    `json:"filter,omitempty"`
}

// ServerMessage is sent by the feed server.
type ServerMessage struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Filter string `json:"filter,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
	Event  *Event `json:"event,omitempty"`
}
