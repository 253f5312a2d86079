// Package ircclient maintains one upstream IRC session per configured
// server on top of github.com/thoj/go-ircevent, the "opaque external
// library exposing connect, send, and an event callback" spec.md §1
// treats as an out-of-scope collaborator. It translates that library's
// callbacks into Inbound items on the shared IRC-inbound queue and
// exposes Send for the dispatcher's outbound path.
package ircclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	irc "github.com/thoj/go-ircevent"

	"github.com/halfwit/hircd/internal/config"
	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/queue"
)

const (
	minBackoff = time.Second
	maxBackoff = 60 * time.Second
)

// Connector owns exactly one IRC session for one configured server.
type Connector struct {
	name     model.ServerName
	cfg      config.ServerConfig
	userName string
	inbound  *queue.Unbounded[Inbound]
	state    *model.State
	log      *zerolog.Logger

	mu   sync.Mutex
	conn *irc.Connection // nil when disconnected
}

// New returns a Connector for one configured server. userName is already
// resolved (server override or daemon default).
func New(name model.ServerName, cfg config.ServerConfig, userName string, inbound *queue.Unbounded[Inbound], state *model.State, logger *zerolog.Logger) *Connector {
	return &Connector{name: name, cfg: cfg, userName: userName, inbound: inbound, state: state, log: logger}
}

// Send implements model.Connection. A send while disconnected is dropped
// silently — the dispatcher has already logged it to local history.
func (c *Connector) Send(channel model.ChannelName, text string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Privmsg(string(channel), text)
}

// Run connects and, on loss, reconnects with bounded exponential backoff
// until ctx is cancelled. No synthetic message is emitted while
// disconnected — the server's Connection handle simply goes absent, and
// a successful reconnect re-runs the full connect sequence.
func (c *Connector) Run(ctx context.Context) {
	backoff := minBackoff

	for ctx.Err() == nil {
		conn, err := c.connect()
		if err != nil {
			c.log.Warn().Err(err).Str("server", string(c.name)).Dur("retry_in", backoff).Msg("irc connect failed")
			c.state.SetConnection(c.name, nil)
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		c.setConn(conn)
		c.state.SetConnection(c.name, c)
		c.log.Info().Str("server", string(c.name)).Msg("irc connected")

		done := make(chan struct{})
		go func() {
			conn.Loop()
			close(done)
		}()

		select {
		case <-ctx.Done():
			conn.Quit()
			<-done
			c.setConn(nil)
			c.state.SetConnection(c.name, nil)
			return
		case <-done:
			c.log.Warn().Str("server", string(c.name)).Msg("irc connection lost")
			c.setConn(nil)
			c.state.SetConnection(c.name, nil)
		}

		if !sleepCtx(ctx, jitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *Connector) connect() (*irc.Connection, error) {
	conn := irc.IRC(c.userName, c.userName)
	conn.Password = c.cfg.Password
	conn.UseTLS = c.cfg.Security == config.SecurityTLS
	if conn.UseTLS {
		conn.TLSConfig = &tls.Config{ServerName: c.cfg.Host}
	}

	c.installCallbacks(conn)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := conn.Connect(addr); err != nil {
		return nil, err
	}
	return conn, nil
}

// installCallbacks wires the connect sequence and inbound translation
// described in spec.md §4.1, plus the user-list and topic tracking this
// implementation supplements (spec.md §9's "planned extensions").
func (c *Connector) installCallbacks(conn *irc.Connection) {
	var namesMu sync.Mutex
	pendingNames := make(map[model.ChannelName][]model.UserName)

	conn.AddCallback("001", func(e *irc.Event) {
		if c.cfg.Password != "" && c.cfg.Identify != "" {
			conn.SendRaw(fmt.Sprintf(c.cfg.Identify, c.cfg.Password))
		}
		for _, ch := range c.cfg.DefaultChannels {
			conn.Join(ch)
		}
	})

	conn.AddCallback("PRIVMSG", func(e *irc.Event) {
		if len(e.Arguments) == 0 || !strings.HasPrefix(e.Arguments[0], "#") {
			return
		}
		channel := model.ChannelName(e.Arguments[0])
		c.inbound.Push(Inbound{
			Kind:    ReceiveMessage,
			Server:  c.name,
			Channel: channel,
			Sender:  model.UserName(e.Nick),
			Message: model.NewChatMessage(e.Message(), model.UserName(e.Nick), time.Now()),
		})
	})

	conn.AddCallback("TOPIC", func(e *irc.Event) {
		if len(e.Arguments) == 0 {
			return
		}
		c.inbound.Push(Inbound{
			Kind:    ReceiveTopic,
			Server:  c.name,
			Channel: model.ChannelName(e.Arguments[0]),
			Topic:   e.Message(),
		})
	})

	conn.AddCallback("332", func(e *irc.Event) { // RPL_TOPIC
		if len(e.Arguments) < 2 {
			return
		}
		c.inbound.Push(Inbound{
			Kind:    ReceiveTopic,
			Server:  c.name,
			Channel: model.ChannelName(e.Arguments[1]),
			Topic:   e.Message(),
			Initial: true,
		})
	})

	conn.AddCallback("353", func(e *irc.Event) { // RPL_NAMREPLY
		if len(e.Arguments) < 3 {
			return
		}
		channel := model.ChannelName(e.Arguments[2])
		var nicks []model.UserName
		for _, n := range strings.Fields(e.Message()) {
			nicks = append(nicks, model.UserName(strings.TrimLeft(n, "@+%&~")))
		}

		namesMu.Lock()
		pendingNames[channel] = append(pendingNames[channel], nicks...)
		namesMu.Unlock()
	})

	conn.AddCallback("366", func(e *irc.Event) { // RPL_ENDOFNAMES
		if len(e.Arguments) < 2 {
			return
		}
		channel := model.ChannelName(e.Arguments[1])

		namesMu.Lock()
		nicks := pendingNames[channel]
		delete(pendingNames, channel)
		namesMu.Unlock()

		c.inbound.Push(Inbound{
			Kind:    ReceiveNames,
			Server:  c.name,
			Channel: channel,
			Names:   nicks,
		})
	})

	conn.AddCallback("JOIN", func(e *irc.Event) {
		if len(e.Arguments) == 0 {
			return
		}
		c.inbound.Push(Inbound{
			Kind:    ReceiveMembership,
			Server:  c.name,
			Channel: model.ChannelName(e.Arguments[0]),
			User:    model.UserName(e.Nick),
			Joined:  true,
		})
	})
	conn.AddCallback("PART", func(e *irc.Event) {
		if len(e.Arguments) == 0 {
			return
		}
		c.inbound.Push(Inbound{
			Kind:    ReceiveMembership,
			Server:  c.name,
			Channel: model.ChannelName(e.Arguments[0]),
			User:    model.UserName(e.Nick),
			Joined:  false,
		})
	})
	conn.AddCallback("KICK", func(e *irc.Event) {
		if len(e.Arguments) < 2 {
			return
		}
		c.inbound.Push(Inbound{
			Kind:    ReceiveMembership,
			Server:  c.name,
			Channel: model.ChannelName(e.Arguments[0]),
			User:    model.UserName(e.Arguments[1]),
			Joined:  false,
		})
	})
	conn.AddCallback("QUIT", func(e *irc.Event) {
		c.inbound.Push(Inbound{
			Kind:   ReceiveQuit,
			Server: c.name,
			User:   model.UserName(e.Nick),
		})
	})
}

func (c *Connector) setConn(conn *irc.Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
