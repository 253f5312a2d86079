package wire

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/halfwit/hircd/internal/model"
)

func TestClientMsgRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	cases := []ClientMsg{
		Hello{ClientId: 1, AvailableChannels: []model.ChannelId{target, {Server: "TS", Channel: "#b"}}},
		Subscriptions{Channels: map[model.ChannelId]model.ChannelData{
			target: {
				UserList:   []model.UserName{"alice", "bob"},
				MessageLog: []model.ChannelMessage{model.NewChatMessage("hi", "alice", ts)},
				Topic:      "welcome",
			},
		}},
		NewMessage{Target: target, Message: model.NewChatMessage("hello", "ME", ts)},
		NewTopic{Target: target, Message: model.NewTopicMessage("new topic", "alice", ts)},
		InitialTopic{Target: target, Topic: "initial topic"},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteClientMsg(&buf, want); err != nil {
			t.Fatalf("WriteClientMsg(%T): %v", want, err)
		}

		got, err := ReadClientMsg(&buf)
		if err != nil {
			t.Fatalf("ReadClientMsg(%T): %v", want, err)
		}

		assertClientMsgEqual(t, want, got)
	}
}

func TestDaemonRequestRoundTrip(t *testing.T) {
	target := model.ChannelId{Server: "TS", Channel: "#a"}

	cases := []DaemonRequest{
		{SourceClient: 7, Msg: Subscribe{RequestedChannels: []model.ChannelId{target}}},
		{SourceClient: 7, Msg: SendMessage{Target: target, Text: "hello there"}},
		{SourceClient: 7, Msg: Goodbye{}},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteDaemonRequest(&buf, want); err != nil {
			t.Fatalf("WriteDaemonRequest(%v): %v", want, err)
		}

		got, err := ReadDaemonRequest(&buf)
		if err != nil {
			t.Fatalf("ReadDaemonRequest(%v): %v", want, err)
		}

		if got.SourceClient != want.SourceClient {
			t.Fatalf("SourceClient = %d, want %d", got.SourceClient, want.SourceClient)
		}
		if !reflect.DeepEqual(got.Msg, want.Msg) {
			t.Fatalf("Msg = %#v, want %#v", got.Msg, want.Msg)
		}
	}
}

func TestReadClientMsgRejectsTrailingGarbage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClientMsg(&buf, InitialTopic{Target: model.ChannelId{Server: "TS", Channel: "#a"}, Topic: "x"}); err != nil {
		t.Fatalf("WriteClientMsg: %v", err)
	}

	raw := buf.Bytes()
	// Patch the length prefix to claim one extra trailing byte, then
	// append garbage, to exercise decoder.finish()'s anti-garbage check.
	corrupted := append(append([]byte{}, raw...), 0xff)
	corrupted[3]++ // bump the low byte of the big-endian length prefix

	if _, err := ReadClientMsg(bytes.NewReader(corrupted)); err == nil {
		t.Fatal("expected trailing-garbage frame to be rejected, got nil error")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xff // far beyond maxFrameSize
	if _, err := readFrame(bytes.NewReader(lenBuf[:])); err == nil {
		t.Fatal("expected oversized frame length to be rejected")
	}
}

func assertClientMsgEqual(t *testing.T, want, got ClientMsg) {
	t.Helper()

	switch w := want.(type) {
	case Subscriptions:
		g, ok := got.(Subscriptions)
		if !ok {
			t.Fatalf("got %T, want Subscriptions", got)
		}
		if len(g.Channels) != len(w.Channels) {
			t.Fatalf("Channels len = %d, want %d", len(g.Channels), len(w.Channels))
		}
		for id, data := range w.Channels {
			gd, ok := g.Channels[id]
			if !ok {
				t.Fatalf("missing channel %v in decoded Subscriptions", id)
			}
			if gd.Topic != data.Topic || len(gd.UserList) != len(data.UserList) || len(gd.MessageLog) != len(data.MessageLog) {
				t.Fatalf("ChannelData mismatch for %v: got %+v, want %+v", id, gd, data)
			}
		}
	default:
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %#v, want %#v", got, want)
		}
	}
}
