// Package termclient implements the thin terminal client's session
// state machine described in spec.md §4.4: a read-eval-print loop that
// pumps inbound envelopes into a per-channel buffer view and turns a
// line of typed input into an outbound envelope. Rendering is
// deliberately minimal scrollback-to-stdout — a richer TUI is
// out-of-scope per spec.md §1.
package termclient

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/wire"
)

// Client owns one connection to the daemon and the local view state
// derived from it.
type Client struct {
	conn net.Conn
	log  *zerolog.Logger
	out  io.Writer

	mu        sync.Mutex
	clientId  model.ClientId
	buffers   map[model.ChannelId][]model.ChannelMessage
	topics    map[model.ChannelId]string
	order     []model.ChannelId
	current   int
	preferred *model.ChannelId
}

// Dial connects to the daemon's socket at path and returns a Client
// ready to Run.
func Dial(path string, logger *zerolog.Logger, out io.Writer) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("termclient: dial %s: %w", path, err)
	}
	return &Client{
		conn:    conn,
		log:     logger,
		out:     out,
		buffers: make(map[model.ChannelId][]model.ChannelMessage),
		topics:  make(map[model.ChannelId]string),
		current: -1,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PreferInitialChannel overrides the default view selection made on the
// next Subscriptions reply (the first channel in sorted server/channel
// order), if the given channel is among the subscribed set.
func (c *Client) PreferInitialChannel(id model.ChannelId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = &id
}

// Run starts the reader loop (consuming envelopes from the daemon) in the
// background and runs the input loop (consuming lines from in) until it
// exits. It then closes the connection and returns the input loop's error,
// or, if there was none, the reader loop's result.
func (c *Client) Run(in io.Reader) error {
	readerErr := make(chan error, 1)
	go func() {
		readerErr <- c.readLoop()
	}()

	inputErr := c.inputLoop(in)
	c.conn.Close()

	if inputErr != nil {
		return inputErr
	}
	return <-readerErr
}

// readLoop decodes ClientMsg envelopes from the daemon until the
// connection closes or a decode error occurs.
func (c *Client) readLoop() error {
	for {
		msg, err := wire.ReadClientMsg(c.conn)
		if err != nil {
			return err
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg wire.ClientMsg) {
	switch m := msg.(type) {
	case wire.Hello:
		c.mu.Lock()
		c.clientId = m.ClientId
		c.mu.Unlock()

		c.log.Info().Uint64("client", uint64(m.ClientId)).Int("channels", len(m.AvailableChannels)).Msg("connected")
		if err := wire.WriteDaemonRequest(c.conn, wire.DaemonRequest{
			SourceClient: m.ClientId,
			Msg:          wire.Subscribe{RequestedChannels: m.AvailableChannels},
		}); err != nil {
			c.log.Warn().Err(err).Msg("failed to send subscribe")
		}

	case wire.Subscriptions:
		c.mu.Lock()
		c.buffers = make(map[model.ChannelId][]model.ChannelMessage, len(m.Channels))
		c.order = c.order[:0]
		for id, data := range m.Channels {
			c.buffers[id] = data.MessageLog
			c.topics[id] = data.Topic
			c.order = append(c.order, id)
		}
		sort.Slice(c.order, func(i, j int) bool { return c.order[i].Less(c.order[j]) })
		c.current = -1
		if c.preferred != nil {
			for i, id := range c.order {
				if id == *c.preferred {
					c.current = i
					break
				}
			}
		}
		if c.current == -1 && len(c.order) > 0 {
			c.current = 0
		}
		c.mu.Unlock()
		c.render()

	case wire.NewMessage:
		c.mu.Lock()
		c.buffers[m.Target] = append(c.buffers[m.Target], m.Message)
		c.mu.Unlock()
		c.render()

	case wire.NewTopic:
		c.mu.Lock()
		c.topics[m.Target] = m.Message.Text
		c.mu.Unlock()
		c.render()

	case wire.InitialTopic:
		c.mu.Lock()
		c.topics[m.Target] = m.Topic
		c.mu.Unlock()
		c.render()

	default:
		c.log.Warn().Str("type", fmt.Sprintf("%T", m)).Msg("unknown envelope")
	}
}

// render redraws the current channel's buffer. Kept deliberately plain:
// a scrolling transcript, not a curses-style repaint.
func (c *Client) render() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current < 0 || c.current >= len(c.order) {
		return
	}
	id := c.order[c.current]
	fmt.Fprintf(c.out, "-- %s %s (%s) --\n", id.Server, id.Channel, c.topics[id])
	for _, msg := range c.buffers[id] {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Author, msg.Text)
	}
}

// inputLoop reads lines from in. Enter with non-empty input sends a chat
// message to the current channel; ":quit" sends Goodbye and exits, the
// line-oriented equivalent of Ctrl-Q in a full TUI.
func (c *Client) inputLoop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":quit" {
			c.mu.Lock()
			id := c.clientId
			c.mu.Unlock()
			return wire.WriteDaemonRequest(c.conn, wire.DaemonRequest{SourceClient: id, Msg: wire.Goodbye{}})
		}

		c.mu.Lock()
		var target model.ChannelId
		haveTarget := c.current >= 0 && c.current < len(c.order)
		if haveTarget {
			target = c.order[c.current]
		}
		id := c.clientId
		c.mu.Unlock()

		if !haveTarget {
			continue
		}
		if err := wire.WriteDaemonRequest(c.conn, wire.DaemonRequest{
			SourceClient: id,
			Msg:          wire.SendMessage{Target: target, Text: line},
		}); err != nil {
			return err
		}
	}
	return scanner.Err()
}
