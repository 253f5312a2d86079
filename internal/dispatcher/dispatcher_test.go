package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/ircclient"
	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/queue"
	"github.com/halfwit/hircd/internal/wire"
)

// testHarness wires a Dispatcher to real State and queue instances, and
// gives tests a client-facing outbound drain helper. Run in a goroutine
// per test, torn down via ctx cancellation.
type testHarness struct {
	state    *model.State
	irc      *queue.Unbounded[ircclient.Inbound]
	requests *queue.Unbounded[wire.DaemonRequest]
	d        *Dispatcher
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, now func() time.Time) *testHarness {
	t.Helper()
	discard := zerolog.Nop()

	state := model.New()
	irc := queue.NewUnbounded[ircclient.Inbound]()
	requests := queue.NewUnbounded[wire.DaemonRequest]()
	d := New(state, irc, requests, &discard, now)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)

	return &testHarness{state: state, irc: irc, requests: requests, d: d, cancel: cancel}
}

func recvOutbound(t *testing.T, outbound *queue.Outbound) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, ok := outbound.Recv(ctx)
	if !ok {
		t.Fatal("expected an outbound envelope, got none before timeout")
	}
	return v
}

func connectClient(h *testHarness) (model.ClientId, *queue.Outbound) {
	outbound := queue.NewOutbound()
	entry := h.state.AllocateClient(outbound)
	return entry.ClientId, outbound
}

// TestHelloEnumeration covers spec.md §8 scenario 1: a configured
// server's channels are all enumerated once a client connects. Hello
// itself is composed by the socket listener, not the dispatcher, so this
// exercises State.AllChannelIds directly alongside AllocateClient.
func TestHelloEnumeration(t *testing.T) {
	h := newHarness(t, nil)
	h.state.MutateChannel(model.ChannelId{Server: "TS", Channel: "#a"}, func(*model.Channel) {})
	h.state.MutateChannel(model.ChannelId{Server: "TS", Channel: "#b"}, func(*model.Channel) {})

	clientId, _ := connectClient(h)
	if clientId != 1 {
		t.Fatalf("first client's id = %d, want 1", clientId)
	}

	ids := h.state.AllChannelIds()
	want := map[model.ChannelId]bool{
		{Server: "TS", Channel: "#a"}: true,
		{Server: "TS", Channel: "#b"}: true,
	}
	if len(ids) != len(want) {
		t.Fatalf("AllChannelIds() = %v, want %v", ids, want)
	}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected channel id %v", id)
		}
	}
}

// TestSubscribeReply covers scenario 2: subscribing to an unseen channel
// returns an empty ChannelData.
func TestSubscribeReply(t *testing.T) {
	h := newHarness(t, nil)
	clientId, outbound := connectClient(h)

	target := model.ChannelId{Server: "TS", Channel: "#a"}
	h.requests.Push(wire.DaemonRequest{SourceClient: clientId, Msg: wire.Subscribe{RequestedChannels: []model.ChannelId{target}}})

	reply := recvOutbound(t, outbound).(wire.Subscriptions)
	data, ok := reply.Channels[target]
	if !ok {
		t.Fatalf("Subscriptions reply missing %v", target)
	}
	if data.Topic != "" || len(data.MessageLog) != 0 || len(data.UserList) != 0 {
		t.Fatalf("expected empty ChannelData for unseen channel, got %+v", data)
	}
}

// TestLocalEcho covers scenario 3: sending a message yields a NewMessage
// back to the sender, authored "ME", within 1s of wall clock.
func TestLocalEcho(t *testing.T) {
	start := time.Now()
	h := newHarness(t, nil)
	clientId, outbound := connectClient(h)

	target := model.ChannelId{Server: "TS", Channel: "#a"}
	h.state.Subscribe(clientId, target)

	h.requests.Push(wire.DaemonRequest{SourceClient: clientId, Msg: wire.SendMessage{Target: target, Text: "hello"}})

	got := recvOutbound(t, outbound).(wire.NewMessage)
	if got.Target != target {
		t.Fatalf("Target = %v, want %v", got.Target, target)
	}
	if got.Message.Author != localEchoAuthor {
		t.Fatalf("Author = %q, want %q", got.Message.Author, localEchoAuthor)
	}
	if got.Message.Text != "hello" {
		t.Fatalf("Text = %q, want %q", got.Message.Text, "hello")
	}
	if got.Message.Timestamp.Sub(start) > time.Second {
		t.Fatalf("Timestamp %v too far from test start %v", got.Message.Timestamp, start)
	}
}

// TestFanOut covers scenario 4: an IRC inbound message reaches every
// subscriber.
func TestFanOut(t *testing.T) {
	h := newHarness(t, nil)
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	c1, o1 := connectClient(h)
	c2, o2 := connectClient(h)
	h.state.Subscribe(c1, target)
	h.state.Subscribe(c2, target)

	h.irc.Push(ircclient.Inbound{
		Kind:    ircclient.ReceiveMessage,
		Server:  "TS",
		Channel: "#a",
		Sender:  "alice",
		Message: model.NewChatMessage("hi", "alice", time.Now()),
	})

	for _, outbound := range []*queue.Outbound{o1, o2} {
		got := recvOutbound(t, outbound).(wire.NewMessage)
		if got.Message.Text != "hi" || got.Message.Author != "alice" {
			t.Fatalf("got %+v, want text=hi author=alice", got.Message)
		}
	}
}

// TestGoodbyeTeardownVisibility covers scenario 5: after Goodbye, the
// departed client no longer receives fan-out, but the remaining
// subscriber does.
func TestGoodbyeTeardownVisibility(t *testing.T) {
	h := newHarness(t, nil)
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	departing, departingOutbound := connectClient(h)
	staying, stayingOutbound := connectClient(h)
	h.state.Subscribe(departing, target)
	h.state.Subscribe(staying, target)

	h.requests.Push(wire.DaemonRequest{SourceClient: departing, Msg: wire.Goodbye{}})

	// Give the dispatcher a chance to process the teardown before the
	// next inbound message; Goodbye has no reply to synchronize on, so
	// polling the registry until the departed entry is gone stands in for
	// a "teardown has happened" barrier.
	deadline := time.After(2 * time.Second)
	for {
		if h.state.ClientEntry(departing) == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("teardown never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h.irc.Push(ircclient.Inbound{
		Kind:    ircclient.ReceiveMessage,
		Server:  "TS",
		Channel: "#a",
		Sender:  "alice",
		Message: model.NewChatMessage("still here", "alice", time.Now()),
	})

	got := recvOutbound(t, stayingOutbound).(wire.NewMessage)
	if got.Message.Text != "still here" {
		t.Fatalf("staying subscriber got %+v", got.Message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, ok := departingOutbound.Recv(ctx); ok {
		t.Fatal("departed client's outbound queue should be closed, not delivering")
	}
}

// TestNewSubscriberSeesHistory covers scenario 6: a channel's message
// log, populated before a client connects, arrives in that client's
// Subscriptions reply.
func TestNewSubscriberSeesHistory(t *testing.T) {
	h := newHarness(t, nil)
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	h.irc.Push(ircclient.Inbound{
		Kind:    ircclient.ReceiveMessage,
		Server:  "TS",
		Channel: "#a",
		Sender:  "alice",
		Message: model.NewChatMessage("earlier", "alice", time.Now()),
	})

	// Wait for the dispatcher to apply the inbound message before the
	// new client subscribes, matching the scenario's stated ordering.
	deadline := time.After(2 * time.Second)
	for len(h.state.ChannelSnapshot(target).MessageLog) == 0 {
		select {
		case <-deadline:
			t.Fatal("inbound message never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}

	clientId, outbound := connectClient(h)
	h.requests.Push(wire.DaemonRequest{SourceClient: clientId, Msg: wire.Subscribe{RequestedChannels: []model.ChannelId{target}}})

	reply := recvOutbound(t, outbound).(wire.Subscriptions)
	data := reply.Channels[target]
	if len(data.MessageLog) != 1 || data.MessageLog[0].Text != "earlier" {
		t.Fatalf("expected history to include the earlier message, got %+v", data.MessageLog)
	}
}
