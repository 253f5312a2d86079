package model

import "sync"

// ClientEntry is the registry's record for one connected local client.
type ClientEntry struct {
	ClientId           ClientId
	Outbound           OutboundQueue
	SubscribedChannels map[ChannelId]struct{}
}

// OutboundQueue is the closeable FIFO a client session's writer drains.
// Implemented by *queue.Outbound; modeled as an interface here so state
// and dispatcher never depend on the queue package's concrete type.
type OutboundQueue interface {
	Push(v any)
	Close()
}

// State is the daemon's shared, concurrently-accessed region: the
// server/channel map, the client registry, the subscription index, and
// the next-client-id counter. The dispatcher is the sole mutator of channel
// state and the subscription index; outside it, the socket listener
// allocates client entries (AllocateClient) and reads snapshots for Hello,
// and each IRC connector records its server's connection handle
// (SetConnection).
//
// The four cells share one RWMutex rather than one-lock-per-cell because
// every write that matters (allocate id + insert registry, index
// subscriptions on both sides, or append to a message log + read its
// subscribers) must already span
// more than one cell atomically — splitting the lock would just force
// callers to take several locks in a fixed order to get the same
// guarantee. Readers outside the dispatcher use RLock for a point-in-time
// snapshot, which the spec explicitly allows to be stale.
type State struct {
	mu sync.RWMutex

	servers       map[ServerName]*Server
	registry      map[ClientId]*ClientEntry
	subscriptions map[ChannelId]map[ClientId]struct{}
	nextClientId  ClientId
}

// New returns an empty State with no configured servers. Call AddServer
// for each configured server during startup.
func New() *State {
	return &State{
		servers:       make(map[ServerName]*Server),
		registry:      make(map[ClientId]*ClientEntry),
		subscriptions: make(map[ChannelId]map[ClientId]struct{}),
	}
}

// AddServer registers a configured server, replacing any server already
// registered under name. The daemon calls it during startup, before the
// dispatcher runs.
func (s *State) AddServer(name ServerName, srv *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[name] = srv
}

// Server returns the named server, or nil if unconfigured.
func (s *State) Server(name ServerName) *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[name]
}

// AllChannelIds returns a snapshot of every ChannelId known across every
// configured server, for Hello's availableChannels catalog.
func (s *State) AllChannelIds() []ChannelId {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []ChannelId
	for serverName, srv := range s.servers {
		for channelName := range srv.Channels {
			ids = append(ids, ChannelId{Server: serverName, Channel: channelName})
		}
	}
	return ids
}

// ChannelSnapshot returns the current ChannelData for id, or an empty one
// if the channel (or its server) is unknown. Does not create the channel.
func (s *State) ChannelSnapshot(id ChannelId) ChannelData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	srv, ok := s.servers[id.Server]
	if !ok {
		return EmptyChannelData()
	}
	ch, ok := srv.Channels[id.Channel]
	if !ok {
		return EmptyChannelData()
	}
	return ch.Snapshot()
}

// MutateChannel runs fn with exclusive access to the named channel,
// creating the channel (and, if necessary, the server) lazily first. Used
// for mutations that have no subscriber fan-out of their own (e.g. a
// NAMES snapshot). Callers must not retain ch beyond fn.
func (s *State) MutateChannel(id ChannelId, fn func(ch *Channel)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id.Server]
	if !ok {
		srv = NewServer()
		s.servers[id.Server] = srv
	}
	fn(srv.Channel(id.Channel))
}

// AppendMessage appends msg to id's message log and returns a snapshot of
// its current subscribers, both under one atomic region. The dispatcher
// processes one request at a time, so calling this once per message and
// then enqueueing to each returned subscriber in order — even though the
// enqueue itself happens after the lock is released — guarantees every
// subscriber observes appends to this channel in the same relative order,
// per spec.md §4.3's ordering guarantee.
func (s *State) AppendMessage(id ChannelId, msg ChannelMessage) []ClientId {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id.Server]
	if !ok {
		srv = NewServer()
		s.servers[id.Server] = srv
	}
	ch := srv.Channel(id.Channel)
	ch.MessageLog = append(ch.MessageLog, msg)

	return s.subscribersLocked(id)
}

// SetTopic updates id's topic and returns a snapshot of its current
// subscribers, under the same atomicity rule as AppendMessage.
func (s *State) SetTopic(id ChannelId, topic string) []ClientId {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id.Server]
	if !ok {
		srv = NewServer()
		s.servers[id.Server] = srv
	}
	srv.Channel(id.Channel).Topic = topic

	return s.subscribersLocked(id)
}

func (s *State) subscribersLocked(id ChannelId) []ClientId {
	bucket := s.subscriptions[id]
	ids := make([]ClientId, 0, len(bucket))
	for c := range bucket {
		ids = append(ids, c)
	}
	return ids
}

// SetConnection records the (possibly nil) connection handle for a
// configured server.
func (s *State) SetConnection(name ServerName, conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[name]
	if !ok {
		srv = NewServer()
		s.servers[name] = srv
	}
	srv.Connection = conn
}

// AllocateClient allocates the next ClientId, creates its registry entry
// with the given outbound queue, and returns both — all under one atomic
// region, so no two clients ever observe the same id and no message can
// be lost between registry insertion and the caller's first enqueue.
func (s *State) AllocateClient(outbound OutboundQueue) *ClientEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextClientId++
	entry := &ClientEntry{
		ClientId:           s.nextClientId,
		Outbound:           outbound,
		SubscribedChannels: make(map[ChannelId]struct{}),
	}
	s.registry[entry.ClientId] = entry
	return entry
}

// Subscribe adds clientId to id's subscription bucket and adds id to the
// client's subscribed set. Idempotent. Reports whether the client is
// still registered (false if it has already been torn down).
func (s *State) Subscribe(clientId ClientId, id ChannelId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.registry[clientId]
	if !ok {
		return false
	}
	entry.SubscribedChannels[id] = struct{}{}

	bucket, ok := s.subscriptions[id]
	if !ok {
		bucket = make(map[ClientId]struct{})
		s.subscriptions[id] = bucket
	}
	bucket[clientId] = struct{}{}
	return true
}

// Subscribers returns a snapshot of client ids subscribed to id. It takes
// its own RLock for the duration of the call, so it must not be called
// from inside a MutateChannel callback, which already holds the lock.
func (s *State) Subscribers(id ChannelId) []ClientId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribersLocked(id)
}

// Teardown removes clientId's registry entry and every subscription it
// held, closing its outbound queue. A no-op if the client is already
// gone. Only the dispatcher calls this, in response to a Goodbye popped
// off the request queue — readers never call it directly.
func (s *State) Teardown(clientId ClientId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.registry[clientId]
	if !ok {
		return
	}
	for id := range entry.SubscribedChannels {
		if bucket, ok := s.subscriptions[id]; ok {
			delete(bucket, clientId)
			if len(bucket) == 0 {
				delete(s.subscriptions, id)
			}
		}
	}
	delete(s.registry, clientId)
	entry.Outbound.Close()
}

// RemoveUserEverywhere deletes user from every known channel's roster on
// the named server. Used for QUIT, which carries no channel argument.
func (s *State) RemoveUserEverywhere(server ServerName, user UserName) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[server]
	if !ok {
		return
	}
	for _, ch := range srv.Channels {
		delete(ch.UserList, user)
	}
}

// ClientEntry returns the registry entry for clientId, or nil if absent.
func (s *State) ClientEntry(clientId ClientId) *ClientEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry[clientId]
}
