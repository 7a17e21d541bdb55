package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/cliptalk/internal/upload"
)

func TestLogKeepsConversationOrder(t *testing.T) {
	var seen []Message
	l := New(func(m Message) { seen = append(seen, m) })

	l.VideoRecorded("/clips/a.webm", &upload.Result{Reference: "remote/a"})
	l.ResponseReceived(&upload.Reply{ContentType: "text/plain; charset=utf-8", Payload: []byte(" Great take!\n")})

	msgs := l.Messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, KindVideo, msgs[0].Kind)
	assert.Equal(t, "/clips/a.webm", msgs[0].Ref)
	assert.Equal(t, "remote/a", msgs[0].Remote)

	assert.Equal(t, SenderBot, msgs[1].Sender)
	assert.Equal(t, KindText, msgs[1].Kind)
	assert.Equal(t, "Great take!", msgs[1].Text)

	assert.Equal(t, msgs, seen)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

func TestLogBinaryReply(t *testing.T) {
	l := New(nil)
	payload := []byte{0x1a, 0x45, 0xdf, 0xa3}
	l.ResponseReceived(&upload.Reply{ContentType: "video/webm", Payload: payload})

	msgs := l.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, KindMedia, msgs[0].Kind)
	assert.Empty(t, msgs[0].Text)

	ct, data, ok := l.Media(msgs[0].ID)
	require.True(t, ok)
	assert.Equal(t, "video/webm", ct)
	assert.Equal(t, payload, data)

	payload[0] = 0
	_, data, _ = l.Media(msgs[0].ID)
	assert.Equal(t, byte(0x1a), data[0], "payload is copied")

	_, _, ok = l.Media("missing")
	assert.False(t, ok)
}

func TestLogIgnoresNilReplyAndClears(t *testing.T) {
	l := New(nil)
	l.ResponseReceived(nil)
	l.VideoRecorded("", nil)
	assert.Len(t, l.Messages(), 1)

	l.Clear()
	assert.Empty(t, l.Messages())
}
