package ws

import (
	"time"

	"github.com/clearlane/tradeflow/internal/lifecycle"
)

// TopicAll subscribes a connection to every lifecycle topic at once.
const TopicAll = "trades"

// Inbound control frame types.
const (
	FramePing        = "ping"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSyncRequest = "sync_request"
)

// Outbound frame types.
const (
	FramePong                  = "pong"
	FrameConnectionEstablished = "connection_established"
	FrameSubscriptionConfirmed = "subscription_confirmed"
	FrameEvent                 = "event"
	FrameError                 = "error"
)

// InboundFrame is a control message from a client.
type InboundFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Frame is an outbound message to a client.
type Frame struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscribableTopics is the topic namespace clients may subscribe to: the
// aggregate topic plus each lifecycle topic.
func SubscribableTopics() []string {
	return append([]string{TopicAll}, lifecycle.Topics...)
}

func validTopic(topic string) bool {
	if topic == TopicAll {
		return true
	}
	for _, t := range lifecycle.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
