// Package registry is the in-memory account and channel registry. Each
// channel record, including its access list and metadata, is guarded by
// its own lock; changes are made on a copy and swapped in only after
// they have been persisted.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSuchChannel = errors.New("registry: channel not registered")
	ErrNoSuchAccount = errors.New("registry: account not registered")
	ErrExists        = errors.New("registry: already registered")
	ErrFounderLimit  = errors.New("registry: founder has too many channels")
)

// Store persists records. boltstore.Store implements it.
type Store interface {
	PutChannel(ch *chandb.Channel) error
	DeleteChannel(name string) error
	PutAccount(a *chandb.Account) error
}

// Options are the tunables of a Registry.
type Options struct {
	// MaxFounded caps how many channels one account may found. Zero
	// disables the cap.
	MaxFounded int
	// MetadataLimit caps user-settable metadata entries per channel.
	MetadataLimit int
	// Exempt reports whether an account may exceed MaxFounded.
	Exempt func(a *chandb.Account) bool
}

type entry struct {
	mu      sync.Mutex
	ch      *chandb.Channel
	dropped bool
}

// Registry holds all registered accounts and channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*entry          // folded name -> entry
	accounts map[string]*chandb.Account // folded name -> account
	founded  map[string]int             // folded account -> channels founded
	opts     Options
	store    Store
}

// New creates an empty registry. store may be nil for a purely
// in-memory registry.
func New(store Store, opts Options) *Registry {
	return &Registry{
		channels: make(map[string]*entry),
		accounts: make(map[string]*chandb.Account),
		founded:  make(map[string]int),
		opts:     opts,
		store:    store,
	}
}

// SetOptions replaces the tunables, e.g. after a config reload.
func (r *Registry) SetOptions(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = opts
}

// MetadataLimit returns the per-channel metadata entry cap.
func (r *Registry) MetadataLimit() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.MetadataLimit
}

// Load populates the registry from persisted records without writing
// them back. Founder counters are rebuilt from the channel records.
func (r *Registry) Load(accounts []*chandb.Account, channels []*chandb.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range accounts {
		r.accounts[chandb.Fold(a.Name)] = a
	}
	for _, ch := range channels {
		r.channels[chandb.Fold(ch.Name)] = &entry{ch: ch}
		r.founded[chandb.Fold(ch.Founder)]++
	}
	log.Info().Str("component", "registry").
		Int("accounts", len(accounts)).Int("channels", len(channels)).
		Msg("loaded registry")
}

// RegisterAccount adds a new account.
func (r *Registry) RegisterAccount(a *chandb.Account) error {
	key := chandb.Fold(a.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[key]; ok {
		return fmt.Errorf("account %s: %w", a.Name, ErrExists)
	}
	if r.store != nil {
		if err := r.store.PutAccount(a); err != nil {
			return err
		}
	}
	r.accounts[key] = a
	return nil
}

// UpdateAccount applies fn to a copy of the account and stores the result.
func (r *Registry) UpdateAccount(name string, fn func(a *chandb.Account)) error {
	key := chandb.Fold(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.accounts[key]
	if !ok {
		return fmt.Errorf("account %s: %w", name, ErrNoSuchAccount)
	}
	cp := *old
	fn(&cp)
	if r.store != nil {
		if err := r.store.PutAccount(&cp); err != nil {
			return err
		}
	}
	r.accounts[key] = &cp
	return nil
}

// Account returns a copy of the named account.
func (r *Registry) Account(name string) (*chandb.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[chandb.Fold(name)]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// FoundedCount returns how many channels the account founds.
func (r *Registry) FoundedCount(account string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.founded[chandb.Fold(account)]
}

// CanFound reports whether the account may found one more channel. It
// returns ErrFounderLimit when the account is at its cap. The check is
// repeated when a founder change is committed.
func (r *Registry) CanFound(account string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[chandb.Fold(account)]
	if !ok {
		return fmt.Errorf("account %s: %w", account, ErrNoSuchAccount)
	}
	return r.checkFounderSlotLocked(acct)
}

// PendingCount returns how many channels have an outstanding founder
// transfer.
func (r *Registry) PendingCount() int {
	n := 0
	for _, e := range r.entries() {
		e.mu.Lock()
		if e.ch.Pending != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// RegisterChannel registers name with founder as its founder.
func (r *Registry) RegisterChannel(name, founder string, now time.Time) (*chandb.Channel, error) {
	key := chandb.Fold(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[key]; ok {
		return nil, fmt.Errorf("channel %s: %w", name, ErrExists)
	}
	acct, ok := r.accounts[chandb.Fold(founder)]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", founder, ErrNoSuchAccount)
	}
	if err := r.checkFounderSlotLocked(acct); err != nil {
		return nil, err
	}
	ch := chandb.NewChannel(name, acct.Name, now)
	if r.store != nil {
		if err := r.store.PutChannel(ch); err != nil {
			return nil, err
		}
	}
	r.channels[key] = &entry{ch: ch}
	r.founded[chandb.Fold(acct.Name)]++
	return ch.Clone(), nil
}

// DropChannel removes a channel registration.
func (r *Registry) DropChannel(name string) error {
	key := chandb.Fold(name)
	r.mu.Lock()
	e, ok := r.channels[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s: %w", name, ErrNoSuchChannel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropped {
		return fmt.Errorf("channel %s: %w", name, ErrNoSuchChannel)
	}
	if r.store != nil {
		if err := r.store.DeleteChannel(e.ch.Name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	delete(r.channels, key)
	r.decFoundedLocked(e.ch.Founder)
	r.mu.Unlock()
	e.dropped = true
	return nil
}

// Channel returns a snapshot of the named channel.
func (r *Registry) Channel(name string) (*chandb.Channel, bool) {
	e := r.entry(name)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Clone(), true
}

// ChannelNames returns the names of all registered channels.
func (r *Registry) ChannelNames() []string {
	entries := r.entries()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		names = append(names, e.ch.Name)
		e.mu.Unlock()
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Update runs fn on a copy of the channel while holding the channel's
// lock. If fn returns nil the copy is persisted and replaces the
// record; otherwise nothing changes. A founder change is checked
// against the founder limit and counted in the same step.
func (r *Registry) Update(name string, fn func(ch *chandb.Channel) error) error {
	e := r.entry(name)
	if e == nil {
		return fmt.Errorf("channel %s: %w", name, ErrNoSuchChannel)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropped {
		return fmt.Errorf("channel %s: %w", name, ErrNoSuchChannel)
	}

	next := e.ch.Clone()
	if err := fn(next); err != nil {
		return err
	}

	founderChanged := !chandb.Equal(e.ch.Founder, next.Founder)
	if founderChanged {
		r.mu.Lock()
		defer r.mu.Unlock()
		acct, ok := r.accounts[chandb.Fold(next.Founder)]
		if !ok {
			return fmt.Errorf("account %s: %w", next.Founder, ErrNoSuchAccount)
		}
		if err := r.checkFounderSlotLocked(acct); err != nil {
			return err
		}
	}

	if r.store != nil {
		if err := r.store.PutChannel(next); err != nil {
			return err
		}
	}
	if founderChanged {
		r.decFoundedLocked(e.ch.Founder)
		r.founded[chandb.Fold(next.Founder)]++
	}
	e.ch = next
	return nil
}

func (r *Registry) checkFounderSlotLocked(acct *chandb.Account) error {
	if r.opts.MaxFounded <= 0 {
		return nil
	}
	if r.opts.Exempt != nil && r.opts.Exempt(acct) {
		return nil
	}
	if r.founded[chandb.Fold(acct.Name)] >= r.opts.MaxFounded {
		return fmt.Errorf("account %s: %w", acct.Name, ErrFounderLimit)
	}
	return nil
}

func (r *Registry) decFoundedLocked(account string) {
	key := chandb.Fold(account)
	if r.founded[key] <= 1 {
		delete(r.founded, key)
		return
	}
	r.founded[key]--
}

func (r *Registry) entry(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[chandb.Fold(name)]
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.channels))
	for _, e := range r.channels {
		out = append(out, e)
	}
	return out
}
