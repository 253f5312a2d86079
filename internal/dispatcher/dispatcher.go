// Package dispatcher implements the daemon's single mutator: the
// activity that consumes both the daemon-request queue and the
// IRC-inbound queue and is the only code path that changes channel state
// and the subscription index (spec.md §4.3).
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/ircclient"
	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/queue"
	"github.com/halfwit/hircd/internal/wire"
)

// localEchoAuthor is the placeholder author for a client's own outbound
// message. spec.md §9 flags this as a known issue: the real logged-in
// nick per server is knowable and should probably replace it, but the
// placeholder is kept verbatim for behavioral compatibility.
const localEchoAuthor = model.UserName("ME")

// Dispatcher is the sole mutator of State's channels and subscription
// index (see State for the other writers). Its dependencies are passed
// in at construction as an explicit collaborator bundle (spec.md §9)
// rather than hidden behind package-level state, so each one can be
// swapped for a fake in tests.
type Dispatcher struct {
	State    *model.State
	IRC      *queue.Unbounded[ircclient.Inbound]
	Requests *queue.Unbounded[wire.DaemonRequest]
	Log      *zerolog.Logger
	Now      func() time.Time
}

// New returns a Dispatcher. now defaults to time.Now when nil.
func New(state *model.State, irc *queue.Unbounded[ircclient.Inbound], requests *queue.Unbounded[wire.DaemonRequest], logger *zerolog.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{State: state, IRC: irc, Requests: requests, Log: logger, Now: now}
}

// Run consumes both queues until ctx is cancelled. The select statement
// below is the "wait on either queue" primitive of spec.md §5: Go's
// select chooses uniformly among the cases that are ready, which is
// exactly the "no spurious wakeup cost, no starvation of either side"
// contract the spec asks for, with no extra scheduling code needed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.Requests.Ready():
			if req, ok := d.Requests.TryPop(); ok {
				d.handleRequest(req)
			}
		case <-d.IRC.Ready():
			if ev, ok := d.IRC.TryPop(); ok {
				d.handleInbound(ev)
			}
		}
	}
}

func (d *Dispatcher) handleRequest(req wire.DaemonRequest) {
	switch msg := req.Msg.(type) {
	case wire.Subscribe:
		d.handleSubscribe(req.SourceClient, msg)
	case wire.SendMessage:
		d.handleSendMessage(req.SourceClient, msg)
	case wire.Goodbye:
		d.handleGoodbye(req.SourceClient)
	default:
		d.Log.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("dispatcher: unknown daemon request")
	}
}

// handleSubscribe implements spec.md §4.3's Subscribe handling. Duplicate
// subscriptions are idempotent because State.Subscribe just re-inserts
// into sets; unknown channels produce an empty ChannelData snapshot
// rather than an error, so clients may subscribe eagerly before a server
// connects.
func (d *Dispatcher) handleSubscribe(client model.ClientId, msg wire.Subscribe) {
	entry := d.State.ClientEntry(client)
	if entry == nil {
		return
	}

	data := make(map[model.ChannelId]model.ChannelData, len(msg.RequestedChannels))
	for _, id := range msg.RequestedChannels {
		data[id] = d.State.ChannelSnapshot(id)
	}
	for _, id := range msg.RequestedChannels {
		d.State.Subscribe(client, id)
	}

	entry.Outbound.Push(wire.Subscriptions{Channels: data})
}

// handleSendMessage implements spec.md §4.3's SendMessage handling: route
// to the IRC connector, local-echo into the log, fan out to subscribers —
// all ordered exactly as specified, including the local-echo-after-send
// reordering the spec explicitly accepts.
func (d *Dispatcher) handleSendMessage(client model.ClientId, msg wire.SendMessage) {
	if srv := d.State.Server(msg.Target.Server); srv != nil && srv.Connection != nil {
		srv.Connection.Send(msg.Target.Channel, msg.Text)
	}

	chat := model.NewChatMessage(msg.Text, localEchoAuthor, d.Now())
	subscribers := d.State.AppendMessage(msg.Target, chat)
	d.fanoutMessage(msg.Target, chat, subscribers)
}

// handleGoodbye implements spec.md §4.2's teardown, triggered here
// instead of from a reader-EOF.
func (d *Dispatcher) handleGoodbye(client model.ClientId) {
	d.State.Teardown(client)
}

func (d *Dispatcher) handleInbound(ev ircclient.Inbound) {
	id := model.ChannelId{Server: ev.Server, Channel: ev.Channel}

	switch ev.Kind {
	case ircclient.ReceiveMessage:
		subscribers := d.State.AppendMessage(id, ev.Message)
		d.fanoutMessage(id, ev.Message, subscribers)

	case ircclient.ReceiveTopic:
		subscribers := d.State.SetTopic(id, ev.Topic)
		d.fanoutTopic(id, ev.Topic, ev.Initial, subscribers)

	case ircclient.ReceiveNames:
		d.State.MutateChannel(id, func(ch *model.Channel) {
			ch.UserList = make(map[model.UserName]struct{}, len(ev.Names))
			for _, n := range ev.Names {
				ch.UserList[n] = struct{}{}
			}
		})

	case ircclient.ReceiveMembership:
		d.State.MutateChannel(id, func(ch *model.Channel) {
			if ev.Joined {
				ch.UserList[ev.User] = struct{}{}
			} else {
				delete(ch.UserList, ev.User)
			}
		})

	case ircclient.ReceiveQuit:
		d.State.RemoveUserEverywhere(ev.Server, ev.User)

	default:
		d.Log.Warn().Int("kind", int(ev.Kind)).Msg("dispatcher: unknown inbound event")
	}
}

func (d *Dispatcher) fanoutMessage(id model.ChannelId, msg model.ChannelMessage, subscribers []model.ClientId) {
	for _, sub := range subscribers {
		if entry := d.State.ClientEntry(sub); entry != nil {
			entry.Outbound.Push(wire.NewMessage{Target: id, Message: msg})
		}
	}
}

func (d *Dispatcher) fanoutTopic(id model.ChannelId, topic string, initial bool, subscribers []model.ClientId) {
	for _, sub := range subscribers {
		entry := d.State.ClientEntry(sub)
		if entry == nil {
			continue
		}
		if initial {
			entry.Outbound.Push(wire.InitialTopic{Target: id, Topic: topic})
		} else {
			msg := model.NewTopicMessage(topic, "", d.Now())
			entry.Outbound.Push(wire.NewTopic{Target: id, Message: msg})
		}
	}
}
