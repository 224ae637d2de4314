package chatlog

import (
	"encoding/json"
	"sync"
	"time"
)

// MessageKind distinguishes how a chat entry was produced.
type MessageKind string

const (
	KindPlain         MessageKind = "plain"
	KindTranscript    MessageKind = "transcript"
	KindExternalQuery MessageKind = "external_query"
)

// QueryType categorizes an external lookup.
type QueryType string

const (
	QueryWeather    QueryType = "weather"
	QueryRestaurant QueryType = "restaurant"
	QueryShop       QueryType = "shop"
	QueryGeneral    QueryType = "general"
)

// QueryPayload carries the raw collaborator response alongside an
// external-query message so renderers can re-derive richer views.
type QueryPayload struct {
	Data      json.RawMessage `json:"data"`
	QueryType QueryType       `json:"queryType"`
}

// Message is one entry in the chat log. Entries are never mutated after
// append; ID is unique and strictly increasing in insertion order.
type Message struct {
	ID        int64         `json:"id"`
	Text      string        `json:"text"`
	FromUser  bool          `json:"fromUser"`
	Kind      MessageKind   `json:"kind"`
	Payload   *QueryPayload `json:"payload,omitempty"`
	Markdown  bool          `json:"markdown"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Subscriber receives every appended message. Called synchronously under
// no lock; implementations must not call back into the log.
type Subscriber func(Message)

// ChatLog is the append-only message history shared by every conversational
// component. Appends are safe from concurrent producers (the data-channel
// event handler and the user input handler are independent entry points).
type ChatLog struct {
	mu     sync.RWMutex
	nextID int64
	msgs   []Message
	subs   []Subscriber
}

func New() *ChatLog {
	return &ChatLog{nextID: 1}
}

// Subscribe registers a hook fired for every appended message.
func (c *ChatLog) Subscribe(fn Subscriber) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// Append adds one message and returns it with its assigned ID.
func (c *ChatLog) Append(msg Message) Message {
	c.mu.Lock()
	msg.ID = c.nextID
	c.nextID++
	if msg.Kind == "" {
		msg.Kind = KindPlain
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c.msgs = append(c.msgs, msg)
	subs := make([]Subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
	return msg
}

// AddText is the common producer path: append a plain text message.
func (c *ChatLog) AddText(text string, fromUser bool) Message {
	return c.Append(Message{Text: text, FromUser: fromUser, Kind: KindPlain})
}

// AddTranscript appends an assistant utterance surfaced from the voice channel.
func (c *ChatLog) AddTranscript(text string) Message {
	return c.Append(Message{Text: text, FromUser: false, Kind: KindTranscript})
}

// Messages returns a snapshot of the log in insertion order.
func (c *ChatLog) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Get returns the message with the given id.
func (c *ChatLog) Get(id int64) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Len reports the number of messages.
func (c *ChatLog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}

// Clear empties the log and resets the id counter. It does not edit entries;
// prior snapshots remain valid.
func (c *ChatLog) Clear() {
	c.mu.Lock()
	c.msgs = nil
	c.nextID = 1
	c.mu.Unlock()
}

// Export serializes a message for clipboard use: the plain text, plus the
// structured payload as JSON for external-query messages.
func Export(m Message) string {
	if m.Kind != KindExternalQuery || m.Payload == nil {
		return m.Text
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return m.Text
	}
	return m.Text + "\n\n" + string(raw)
}
