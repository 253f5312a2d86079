package ircclient

import "github.com/halfwit/hircd/internal/model"

// InboundKind discriminates the shapes carried by Inbound.
type InboundKind int

const (
	// ReceiveMessage is a PRIVMSG addressed to a channel.
	ReceiveMessage InboundKind = iota
	// ReceiveTopic is a topic observation: either the numeric 332 reply
	// sent right after a join (Initial true) or a live TOPIC command.
	ReceiveTopic
	// ReceiveNames is a full NAMES snapshot for a channel, gathered from
	// the numeric 353/366 reply pair.
	ReceiveNames
	// ReceiveMembership is a single user joining or leaving one channel's
	// roster, from JOIN, PART, or KICK.
	ReceiveMembership
	// ReceiveQuit is a user leaving every channel at once, from QUIT
	// (which carries no channel argument).
	ReceiveQuit
)

// Inbound is one item on the shared IRC-inbound queue. Only the fields
// relevant to Kind are populated.
type Inbound struct {
	Kind    InboundKind
	Server  model.ServerName
	Channel model.ChannelName

	// ReceiveMessage
	Sender  model.UserName
	Message model.ChannelMessage

	// ReceiveTopic
	Topic   string
	Initial bool

	// ReceiveNames
	Names []model.UserName

	// ReceiveMembership, ReceiveQuit
	User   model.UserName
	Joined bool
}
