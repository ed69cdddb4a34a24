// Package network tracks the live state of the IRC network as seen by
// services: online sessions and the channels that currently exist. It
// is fed by the uplink and talks back to users through the event bus.
package network

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/rs/zerolog/log"
)

// Channel is a snapshot of a live channel. ID changes every time a
// channel of the same name is recreated, so hooks must key on Name.
type Channel struct {
	ID          uint64
	Name        string
	Topic       string
	TopicSetter string
	TopicTS     time.Time
	Modes       modes.State
	Members     []string
}

type liveChannel struct {
	Channel
	members map[string]string // folded nick -> nick
}

func (lc *liveChannel) snapshot() Channel {
	c := lc.Channel
	c.Members = slices.Sorted(maps.Values(lc.members))
	return c
}

// Hook types.
type (
	JoinHook       func(u chandb.User, ch Channel)
	ChannelAddHook func(ch Channel)
	TopicHook      func(ch Channel)
)

// Network is the live network state. It is safe for concurrent use.
// Hooks run after the state lock is released, so they may call back
// into the Network.
type Network struct {
	mu       sync.RWMutex
	server   string
	users    map[string]*chandb.User // folded nick -> user
	channels map[string]*liveChannel // folded name -> channel
	nextID   uint64
	bus      *events.Bus
	table    *modes.Table

	joinHooks  []JoinHook
	addHooks   []ChannelAddHook
	topicHooks []TopicHook
}

// New creates an empty network state. server is the name used as the
// source of numerics.
func New(server string, bus *events.Bus, table *modes.Table) *Network {
	return &Network{
		server:   server,
		users:    make(map[string]*chandb.User),
		channels: make(map[string]*liveChannel),
		bus:      bus,
		table:    table,
	}
}

// SetTable replaces the mode table, e.g. after a config reload.
func (n *Network) SetTable(t *modes.Table) {
	n.mu.Lock()
	n.table = t
	n.mu.Unlock()
}

// OnJoin registers a hook run whenever a user joins a channel.
func (n *Network) OnJoin(h JoinHook) {
	n.mu.Lock()
	n.joinHooks = append(n.joinHooks, h)
	n.mu.Unlock()
}

// OnChannelAdd registers a hook run whenever a channel is created.
func (n *Network) OnChannelAdd(h ChannelAddHook) {
	n.mu.Lock()
	n.addHooks = append(n.addHooks, h)
	n.mu.Unlock()
}

// OnTopicSet registers a hook run whenever a user changes a topic.
func (n *Network) OnTopicSet(h TopicHook) {
	n.mu.Lock()
	n.topicHooks = append(n.topicHooks, h)
	n.mu.Unlock()
}

// --- Sessions ---

// Introduce adds or replaces an online session.
func (n *Network) Introduce(u chandb.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users[chandb.Fold(u.Nick)] = &u
}

// Quit removes a session and its channel memberships.
func (n *Network) Quit(nick string) {
	key := chandb.Fold(nick)
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.users, key)
	for _, lc := range n.channels {
		delete(lc.members, key)
	}
}

// User returns a copy of the named session.
func (n *Network) User(nick string) (*chandb.User, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	u, ok := n.users[chandb.Fold(nick)]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// SessionsOf returns the nicks of every session logged in to account.
func (n *Network) SessionsOf(account string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var nicks []string
	for _, u := range n.users {
		if u.Account != "" && chandb.Equal(u.Account, account) {
			nicks = append(nicks, u.Nick)
		}
	}
	slices.Sort(nicks)
	return nicks
}

// Users returns a copy of every session, sorted by nick.
func (n *Network) Users() []chandb.User {
	n.mu.RLock()
	out := make([]chandb.User, 0, len(n.users))
	for _, u := range n.users {
		out = append(out, *u)
	}
	n.mu.RUnlock()
	slices.SortFunc(out, func(a, b chandb.User) int { return strings.Compare(a.Nick, b.Nick) })
	return out
}

// UserCount returns the number of online sessions.
func (n *Network) UserCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.users)
}

// --- Channels ---

// Channel returns a snapshot of a live channel.
func (n *Network) Channel(name string) (Channel, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	lc, ok := n.channels[chandb.Fold(name)]
	if !ok {
		return Channel{}, false
	}
	return lc.snapshot(), true
}

// Create brings a channel into existence. Creating a channel that
// already exists is a no-op.
func (n *Network) Create(name string) Channel {
	ch, created := n.create(name)
	if created {
		n.runAddHooks(ch)
	}
	return ch
}

func (n *Network) create(name string) (Channel, bool) {
	key := chandb.Fold(name)
	n.mu.Lock()
	defer n.mu.Unlock()
	if lc, ok := n.channels[key]; ok {
		return lc.snapshot(), false
	}
	n.nextID++
	lc := &liveChannel{
		Channel: Channel{ID: n.nextID, Name: name},
		members: make(map[string]string),
	}
	n.channels[key] = lc
	log.Debug().Str("component", "network").Str("channel", name).Uint64("id", lc.ID).Msg("channel created")
	return lc.snapshot(), true
}

// Destroy removes a live channel.
func (n *Network) Destroy(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, chandb.Fold(name))
}

// Join adds nick to a channel, creating it first if needed.
func (n *Network) Join(nick, name string) {
	n.Create(name)

	n.mu.Lock()
	u, ok := n.users[chandb.Fold(nick)]
	lc, live := n.channels[chandb.Fold(name)]
	if !ok || !live {
		n.mu.Unlock()
		return
	}
	lc.members[chandb.Fold(nick)] = u.Nick
	user := *u
	ch := lc.snapshot()
	hooks := slices.Clone(n.joinHooks)
	n.mu.Unlock()

	for _, h := range hooks {
		h(user, ch)
	}
}

// Part removes nick from a channel. The last member leaving destroys it.
func (n *Network) Part(nick, name string) {
	key := chandb.Fold(name)
	n.mu.Lock()
	defer n.mu.Unlock()
	lc, ok := n.channels[key]
	if !ok {
		return
	}
	delete(lc.members, chandb.Fold(nick))
	if len(lc.members) == 0 {
		delete(n.channels, key)
	}
}

// UserTopic records a topic change made by a user and runs the topic
// hooks.
func (n *Network) UserTopic(name, setter, text string, ts time.Time) {
	n.mu.Lock()
	lc, ok := n.channels[chandb.Fold(name)]
	if !ok {
		n.mu.Unlock()
		return
	}
	lc.Topic, lc.TopicSetter, lc.TopicTS = text, setter, ts
	ch := lc.snapshot()
	hooks := slices.Clone(n.topicHooks)
	n.mu.Unlock()

	for _, h := range hooks {
		h(ch)
	}
}

// ServiceTopic sets a topic on behalf of a service and announces it on
// the network. Topic hooks are not run.
func (n *Network) ServiceTopic(source, name, setter, text string, ts time.Time) bool {
	n.mu.Lock()
	lc, ok := n.channels[chandb.Fold(name)]
	if !ok {
		n.mu.Unlock()
		return false
	}
	lc.Topic, lc.TopicSetter, lc.TopicTS = text, setter, ts
	chName := lc.Name
	n.mu.Unlock()

	n.bus.Emit(events.Event{
		Type:    events.EvTopic,
		Source:  source,
		Channel: chName,
		Text:    text,
		Data: map[string]any{
			"setter": setter,
			"ts":     ts.Unix(),
		},
	})
	return true
}

// SetModes overwrites the live mode state of a channel, as reported by
// the uplink.
func (n *Network) SetModes(name string, st modes.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if lc, ok := n.channels[chandb.Fold(name)]; ok {
		lc.Modes = st
	}
}

// Burst creates a channel with the mode state the uplink reports for it,
// or overwrites the modes of an existing one. Channel-add hooks run only
// for a new channel, once its modes are in place.
func (n *Network) Burst(name string, st modes.State) (Channel, bool) {
	_, created := n.create(name)
	n.SetModes(name, st)
	ch, _ := n.Channel(name)
	if created {
		n.runAddHooks(ch)
	}
	return ch, created
}

// ApplyModes records a mode change made on the network. It reports
// whether the channel exists.
func (n *Network) ApplyModes(name, change string, args []string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	lc, ok := n.channels[chandb.Fold(name)]
	if ok {
		lc.Modes = modes.ApplyChange(lc.Modes, change, args, n.table)
	}
	return ok
}

// RecheckModes brings a live channel in line with lock and announces
// the change. It returns the mode line sent, or "" if nothing changed
// or the channel does not exist.
func (n *Network) RecheckModes(source, name string, lock chandb.ModeLock) string {
	n.mu.Lock()
	lc, ok := n.channels[chandb.Fold(name)]
	if !ok {
		n.mu.Unlock()
		return ""
	}
	next, line := modes.Enforce(lc.Modes, lock, n.table)
	lc.Modes = next
	chName := lc.Name
	n.mu.Unlock()

	if line == "" {
		return ""
	}
	n.bus.Emit(events.Event{
		Type:    events.EvMode,
		Source:  source,
		Channel: chName,
		Text:    line,
	})
	return line
}

// ChannelCount returns the number of live channels.
func (n *Network) ChannelCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.channels)
}

func (n *Network) runAddHooks(ch Channel) {
	n.mu.RLock()
	hooks := slices.Clone(n.addHooks)
	n.mu.RUnlock()
	for _, h := range hooks {
		h(ch)
	}
}

// --- Messages ---

// Notice sends a NOTICE from source to nick.
func (n *Network) Notice(source, nick, text string) {
	n.bus.EmitTo(nick, events.Event{Type: events.EvNotice, Source: source, Text: text})
}

// NoticeAll sends the same NOTICE from source to each nick.
func (n *Network) NoticeAll(source string, nicks []string, text string) {
	n.bus.EmitToAll(nicks, events.Event{Type: events.EvNotice, Source: source, Text: text})
}

// Numeric sends a numeric reply from the server to nick.
func (n *Network) Numeric(nick string, num int, channel, text string) {
	n.bus.EmitTo(nick, events.Event{
		Type:    events.EvNumeric,
		Source:  n.server,
		Channel: channel,
		Numeric: num,
		Text:    text,
	})
}

// FormatNumeric renders a numeric event's code as the three digit form.
func FormatNumeric(num int) string {
	s := strconv.Itoa(num)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
