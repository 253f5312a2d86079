// Package daemon wires together the dispatcher, the per-server IRC
// connectors, and the socket server, and owns the shutdown order between
// them.
package daemon

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/config"
	"github.com/halfwit/hircd/internal/dispatcher"
	"github.com/halfwit/hircd/internal/ircclient"
	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/queue"
	"github.com/halfwit/hircd/internal/socketserver"
	"github.com/halfwit/hircd/internal/wire"
)

// Daemon wires the State, the IRC connectors, the Dispatcher, and the
// Server together for one process lifetime.
type Daemon struct {
	state      *model.State
	connectors []*ircclient.Connector
	dispatcher *dispatcher.Dispatcher
	socket     *socketserver.Server
	log        *zerolog.Logger
}

// New builds a Daemon from loaded configuration. It does not connect to
// anything or start listening — call Run for that.
func New(cfg config.Config, logger *zerolog.Logger) *Daemon {
	state := model.New()

	irc := queue.NewUnbounded[ircclient.Inbound]()
	requests := queue.NewUnbounded[wire.DaemonRequest]()

	connectors := make([]*ircclient.Connector, 0, len(cfg.Servers))
	for name, srvCfg := range cfg.Servers {
		serverName := model.ServerName(name)
		srv := model.NewServer()
		for _, ch := range srvCfg.DefaultChannels {
			srv.Channel(model.ChannelName(ch))
		}
		state.AddServer(serverName, srv)

		userName := cfg.ResolveUserName(srvCfg)
		connectors = append(connectors, ircclient.New(serverName, srvCfg, userName, irc, state, logger))
	}

	d := dispatcher.New(state, irc, requests, logger, nil)
	srv := socketserver.New(cfg.SocketPath, state, requests, logger)

	return &Daemon{
		state:      state,
		connectors: connectors,
		dispatcher: d,
		socket:     srv,
		log:        logger,
	}
}

// Run starts every connector, the dispatcher, and the socket listener,
// and blocks until ctx is cancelled. Shutdown proceeds in the order
// spec.md §5 requires: stop accepting new sessions first, then stop the
// upstream IRC connectors, then stop the dispatcher last, so no in-flight
// teardown races a still-running mutator. Requests still queued when the
// dispatcher stops are not processed.
func (d *Daemon) Run(ctx context.Context) error {
	connectorCtx, cancelConnectors := context.WithCancel(ctx)
	defer cancelConnectors()

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		d.dispatcher.Run(dispatcherCtx)
	}()

	var upstream sync.WaitGroup
	for _, c := range d.connectors {
		upstream.Add(1)
		go func(c *ircclient.Connector) {
			defer upstream.Done()
			c.Run(connectorCtx)
		}(c)
	}

	socketErr := make(chan error, 1)
	go func() {
		socketErr <- d.socket.Run(ctx)
	}()

	<-ctx.Done()
	d.log.Info().Msg("shutting down")

	err := <-socketErr

	cancelConnectors()
	upstream.Wait()

	cancelDispatcher()
	<-dispatcherDone

	return err
}
