package bridge

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/relaylabs/chatbridge/internal/ids"
)

// MetadataKeyCorrelationID carries the correlation token in message metadata.
// The worker copies it verbatim from request to response; the bridge never
// mutates it.
const MetadataKeyCorrelationID = "correlation_id"

// NewEnvelope wraps raw text in a broker message tagged with the correlation
// token.
func NewEnvelope(body, token string) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), []byte(body))
	msg.Metadata.Set(MetadataKeyCorrelationID, token)
	return msg
}

// Token extracts the correlation token from a message, or "" when absent.
func Token(msg *message.Message) string {
	return msg.Metadata.Get(MetadataKeyCorrelationID)
}
