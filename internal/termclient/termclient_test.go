package termclient

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/wire"
)

func newTestClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close() })

	discard := zerolog.Nop()
	var out bytes.Buffer
	c := &Client{
		conn:    clientSide,
		log:     &discard,
		out:     &out,
		buffers: make(map[model.ChannelId][]model.ChannelMessage),
		topics:  make(map[model.ChannelId]string),
		current: -1,
	}
	return c, serverSide
}

func TestHelloTriggersSubscribeToAllAdvertisedChannels(t *testing.T) {
	c, serverSide := newTestClient(t)
	channels := []model.ChannelId{{Server: "TS", Channel: "#a"}, {Server: "TS", Channel: "#b"}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.handle(wire.Hello{ClientId: 5, AvailableChannels: channels})
	}()

	req, err := wire.ReadDaemonRequest(serverSide)
	if err != nil {
		t.Fatalf("ReadDaemonRequest: %v", err)
	}
	<-done

	sub, ok := req.Msg.(wire.Subscribe)
	if !ok {
		t.Fatalf("got %T, want wire.Subscribe", req.Msg)
	}
	if len(sub.RequestedChannels) != 2 {
		t.Fatalf("RequestedChannels = %v, want 2 entries", sub.RequestedChannels)
	}
	if req.SourceClient != 5 {
		t.Fatalf("SourceClient = %d, want 5", req.SourceClient)
	}
}

func TestSubscriptionsSelectsPreferredChannel(t *testing.T) {
	c, _ := newTestClient(t)
	preferred := model.ChannelId{Server: "TS", Channel: "#b"}
	c.PreferInitialChannel(preferred)

	c.handle(wire.Subscriptions{Channels: map[model.ChannelId]model.ChannelData{
		{Server: "TS", Channel: "#a"}: {},
		preferred:                     {Topic: "hi"},
	}})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current < 0 || c.order[c.current] != preferred {
		t.Fatalf("current selection = %v, want %v", c.order, preferred)
	}
}

func TestSubscriptionsDefaultsToFirstChannelWithoutPreference(t *testing.T) {
	c, _ := newTestClient(t)

	c.handle(wire.Subscriptions{Channels: map[model.ChannelId]model.ChannelData{
		{Server: "TS", Channel: "#a"}: {},
	}})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != 0 {
		t.Fatalf("current = %d, want 0", c.current)
	}
}

func TestNewMessageAppendsToTargetBuffer(t *testing.T) {
	c, _ := newTestClient(t)
	target := model.ChannelId{Server: "TS", Channel: "#a"}
	c.handle(wire.Subscriptions{Channels: map[model.ChannelId]model.ChannelData{target: {}}})

	c.handle(wire.NewMessage{Target: target, Message: model.NewChatMessage("hi", "alice", time.Now())})

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffers[target]) != 1 || c.buffers[target][0].Text != "hi" {
		t.Fatalf("buffers[%v] = %v, want one message \"hi\"", target, c.buffers[target])
	}
}

func TestInitialTopicAndNewTopicUpdateTopic(t *testing.T) {
	c, _ := newTestClient(t)
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	c.handle(wire.InitialTopic{Target: target, Topic: "welcome"})
	c.mu.Lock()
	if c.topics[target] != "welcome" {
		t.Fatalf("topic = %q, want %q", c.topics[target], "welcome")
	}
	c.mu.Unlock()

	c.handle(wire.NewTopic{Target: target, Message: model.NewTopicMessage("new topic", "alice", time.Now())})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[target] != "new topic" {
		t.Fatalf("topic = %q, want %q", c.topics[target], "new topic")
	}
}

func TestInputLoopQuitSendsGoodbye(t *testing.T) {
	c, serverSide := newTestClient(t)
	c.clientId = 9

	done := make(chan error, 1)
	go func() { done <- c.inputLoop(bytes.NewBufferString(":quit\n")) }()

	req, err := wire.ReadDaemonRequest(serverSide)
	if err != nil {
		t.Fatalf("ReadDaemonRequest: %v", err)
	}
	if _, ok := req.Msg.(wire.Goodbye); !ok {
		t.Fatalf("got %T, want wire.Goodbye", req.Msg)
	}
	if req.SourceClient != 9 {
		t.Fatalf("SourceClient = %d, want 9", req.SourceClient)
	}
	if err := <-done; err != nil {
		t.Fatalf("inputLoop returned error: %v", err)
	}
}

func TestInputLoopSendsChatToCurrentChannel(t *testing.T) {
	c, serverSide := newTestClient(t)
	c.clientId = 3
	target := model.ChannelId{Server: "TS", Channel: "#a"}
	c.order = []model.ChannelId{target}
	c.current = 0

	go c.inputLoop(bytes.NewBufferString("hello there\n:quit\n"))

	req, err := wire.ReadDaemonRequest(serverSide)
	if err != nil {
		t.Fatalf("ReadDaemonRequest: %v", err)
	}
	send, ok := req.Msg.(wire.SendMessage)
	if !ok {
		t.Fatalf("got %T, want wire.SendMessage", req.Msg)
	}
	if send.Target != target || send.Text != "hello there" {
		t.Fatalf("got %+v, want target=%v text=%q", send, target, "hello there")
	}
}
