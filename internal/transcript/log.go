// Package transcript keeps the conversation between the user and the
// backend: each uploaded clip and each reply the backend produced.
package transcript

import (
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/cliptalk/internal/upload"
)

// Sender says who produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Kind says how a message renders.
type Kind string

const (
	KindVideo Kind = "video"
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Message is one transcript entry. Binary payloads are not serialized;
// they are served separately by ID.
type Message struct {
	ID          string    `json:"id"`
	Sender      Sender    `json:"sender"`
	Kind        Kind      `json:"kind"`
	Text        string    `json:"text,omitempty"`
	Ref         string    `json:"ref,omitempty"`
	Remote      string    `json:"remote,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	payload []byte
}

// Log is an in-memory transcript. It is safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	messages []Message
	onAppend func(Message)
}

// New returns an empty log. onAppend, when set, is called after each
// message is added, outside the log's lock.
func New(onAppend func(Message)) *Log {
	return &Log{onAppend: onAppend}
}

// VideoRecorded adds the user's clip.
func (l *Log) VideoRecorded(localRef string, result *upload.Result) {
	msg := Message{
		Sender: SenderUser,
		Kind:   KindVideo,
		Ref:    localRef,
	}
	if result != nil {
		msg.Remote = result.Reference
	}
	l.append(msg)
}

// ResponseReceived adds the backend's reply. Text replies are kept as
// text; anything else is kept as an opaque media payload.
func (l *Log) ResponseReceived(reply *upload.Reply) {
	if reply == nil {
		return
	}
	msg := Message{
		Sender:      SenderBot,
		ContentType: reply.ContentType,
	}
	if isText(reply.ContentType) {
		msg.Kind = KindText
		msg.Text = strings.TrimSpace(string(reply.Payload))
	} else {
		msg.Kind = KindMedia
		msg.payload = append([]byte(nil), reply.Payload...)
	}
	l.append(msg)
}

// Messages returns the transcript in order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Media returns the binary payload of a media message.
func (l *Log) Media(id string) (contentType string, data []byte, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.ID == id && m.Kind == KindMedia {
			return m.ContentType, m.payload, true
		}
	}
	return "", nil, false
}

// Clear drops every message.
func (l *Log) Clear() {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
}

func (l *Log) append(msg Message) {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	if l.onAppend != nil {
		l.onAppend(msg)
	}
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/json"
}

var _ upload.Sink = (*Log)(nil)
