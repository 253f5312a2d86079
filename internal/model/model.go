// Package model defines the shared data types that flow between the IRC
// connectors, the dispatcher, and client sessions: server and channel
// identity, chat messages, and the per-server/per-channel state that the
// dispatcher is the sole mutator of.
package model

import "time"

// ServerName is an opaque label for a configured IRC server, unique across
// the daemon's configuration. Equality is by byte value.
type ServerName string

// ChannelName is an opaque label for an IRC channel, including any leading
// '#'.
type ChannelName string

// UserName is an opaque label for an IRC nick or the local echo author.
type UserName string

// ChannelId identifies a channel on a specific server.
type ChannelId struct {
	Server  ServerName
	Channel ChannelName
}

// Less gives ChannelId a total order by lexical pair, for deterministic
// ordering of Hello's channel catalog and the terminal client's channel
// list.
func (c ChannelId) Less(other ChannelId) bool {
	if c.Server != other.Server {
		return c.Server < other.Server
	}
	return c.Channel < other.Channel
}

// ClientId is a non-negative integer assigned at connection acceptance,
// strictly increasing across the daemon's lifetime starting at 1. Zero is
// never a valid, assigned id.
type ClientId uint64

// MessageKind distinguishes the two ChannelMessage variants that share a
// shape on the wire.
type MessageKind uint8

const (
	// Chat is an ordinary chat message.
	Chat MessageKind = iota
	// Topic is a topic-change notification, carried as ChannelMessage for
	// wire-shape compatibility even though topics are also tracked
	// separately on Channel.
	Topic
)

// ChannelMessage is a chat message or a topic-change message; both share
// the same shape.
type ChannelMessage struct {
	Kind      MessageKind
	Text      string
	Author    UserName
	Timestamp time.Time
}

// NewChatMessage builds a Chat-kind ChannelMessage.
func NewChatMessage(text string, author UserName, ts time.Time) ChannelMessage {
	return ChannelMessage{Kind: Chat, Text: text, Author: author, Timestamp: ts}
}

// NewTopicMessage builds a Topic-kind ChannelMessage.
func NewTopicMessage(text string, author UserName, ts time.Time) ChannelMessage {
	return ChannelMessage{Kind: Topic, Text: text, Author: author, Timestamp: ts}
}

// Channel holds the mutable state the dispatcher maintains for one
// channel on one server. The message log grows without bound; trimming it
// is a deliberate non-goal.
type Channel struct {
	Topic      string
	MessageLog []ChannelMessage
	UserList   map[UserName]struct{}
}

// NewChannel returns an empty channel, as created lazily on first
// observation.
func NewChannel() *Channel {
	return &Channel{UserList: make(map[UserName]struct{})}
}

// Snapshot copies out a ChannelData-shaped view suitable for the wire
// (never aliases the live message log or user list).
func (c *Channel) Snapshot() ChannelData {
	log := make([]ChannelMessage, len(c.MessageLog))
	copy(log, c.MessageLog)

	users := make([]UserName, 0, len(c.UserList))
	for u := range c.UserList {
		users = append(users, u)
	}

	return ChannelData{
		UserList:   users,
		MessageLog: log,
		Topic:      c.Topic,
	}
}

// ChannelData is the wire-facing snapshot of a Channel at a point in time.
type ChannelData struct {
	UserList   []UserName
	MessageLog []ChannelMessage
	Topic      string
}

// EmptyChannelData is what Subscribe reports for a channel the daemon has
// never observed: empty topic, empty log, empty user list. This is
// intentional — clients may subscribe eagerly before a server connects.
func EmptyChannelData() ChannelData {
	return ChannelData{}
}

// Connection is the IRC connector's handle to a live upstream session.
// Implemented by *ircclient.Connector; modeled here as an interface so the
// dispatcher depends only on Send, never on connector internals.
type Connection interface {
	Send(channel ChannelName, text string)
}

// Server holds one configured IRC server's known channels and its current
// connection handle. Connection is nil when disconnected or not yet
// connected; sends to a nil Connection are dropped by the caller.
type Server struct {
	Channels   map[ChannelName]*Channel
	Connection Connection
}

// NewServer returns a server with no known channels and no connection.
func NewServer() *Server {
	return &Server{Channels: make(map[ChannelName]*Channel)}
}

// Channel returns the named channel, creating it lazily if unseen.
func (s *Server) Channel(name ChannelName) *Channel {
	ch, ok := s.Channels[name]
	if !ok {
		ch = NewChannel()
		s.Channels[name] = ch
	}
	return ch
}
