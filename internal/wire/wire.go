// Package wire defines the length-framed, tagged-union binary envelopes
// exchanged over the daemon's local socket, and the codec that encodes
// and decodes them. Tag and field order within each union are fixed and
// documented at each type; changing either breaks wire compatibility.
package wire

import "github.com/halfwit/hircd/internal/model"

// ClientMsg is a daemon-to-client envelope. The concrete types below are
// its only implementations; tag bytes are assigned in clientMsgTag.
type ClientMsg interface {
	clientMsgTag() byte
}

// Hello is tag 1: sent as the first envelope on every new connection.
type Hello struct {
	ClientId          model.ClientId
	AvailableChannels []model.ChannelId
}

func (Hello) clientMsgTag() byte { return tagHello }

// Subscriptions is tag 2: the reply to a client's Subscribe request.
type Subscriptions struct {
	Channels map[model.ChannelId]model.ChannelData
}

func (Subscriptions) clientMsgTag() byte { return tagSubscriptions }

// NewMessage is tag 3: fan-out of a chat message to subscribers.
type NewMessage struct {
	Target  model.ChannelId
	Message model.ChannelMessage
}

func (NewMessage) clientMsgTag() byte { return tagNewMessage }

// NewTopic is tag 4: fan-out of a live topic change to subscribers.
type NewTopic struct {
	Target  model.ChannelId
	Message model.ChannelMessage
}

func (NewTopic) clientMsgTag() byte { return tagNewTopic }

// InitialTopic is tag 5: the topic observed right after joining a
// channel, before any live TOPIC change.
type InitialTopic struct {
	Target model.ChannelId
	Topic  string
}

func (InitialTopic) clientMsgTag() byte { return tagInitialTopic }

const (
	tagHello         byte = 1
	tagSubscriptions byte = 2
	tagNewMessage    byte = 3
	tagNewTopic      byte = 4
	tagInitialTopic  byte = 5
)

// DaemonMsg is a client-to-daemon request, always wrapped in a
// DaemonRequest that tags it with its source client.
type DaemonMsg interface {
	daemonMsgTag() byte
}

// Subscribe is tag 1: request to receive traffic for the given channels.
type Subscribe struct {
	RequestedChannels []model.ChannelId
}

func (Subscribe) daemonMsgTag() byte { return tagSubscribe }

// SendMessage is tag 2: request to send an outbound chat message.
type SendMessage struct {
	Target model.ChannelId
	Text   string
}

func (SendMessage) daemonMsgTag() byte { return tagSendMessage }

// Goodbye is tag 3: the client is departing; no reply is sent.
type Goodbye struct{}

func (Goodbye) daemonMsgTag() byte { return tagGoodbye }

const (
	tagSubscribe   byte = 1
	tagSendMessage byte = 2
	tagGoodbye     byte = 3
)

// DaemonRequest pairs a DaemonMsg with the client session that sent it.
// The reader activity stamps SourceClient; the dispatcher never has to
// ask a session who it is.
type DaemonRequest struct {
	SourceClient model.ClientId
	Msg          DaemonMsg
}
