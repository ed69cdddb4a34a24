package chandb

import (
	"maps"
	"time"
)

// Channel is a registered channel record. The access list and metadata
// are part of the record so that one lock covers all of them.
type Channel struct {
	Name       string
	Founder    string
	Successor  string
	Registered time.Time
	Flags      ChanFlags
	MLock      ModeLock
	Pending    *PendingTransfer
	Access     map[string]Role   // folded account name -> role
	Metadata   map[string]string // key -> value
}

// NewChannel creates a channel record founded by founder.
func NewChannel(name, founder string, now time.Time) *Channel {
	ch := &Channel{
		Name:       name,
		Founder:    founder,
		Registered: now,
		Access:     make(map[string]Role),
		Metadata:   make(map[string]string),
	}
	ch.Access[Fold(founder)] = RoleFounder
	return ch
}

// Clone returns a deep copy of the record.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Access = maps.Clone(c.Access)
	cp.Metadata = maps.Clone(c.Metadata)
	if cp.Access == nil {
		cp.Access = make(map[string]Role)
	}
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]string)
	}
	if c.Pending != nil {
		p := *c.Pending
		cp.Pending = &p
	}
	return &cp
}

// HasFlag reports whether f is set on the channel.
func (c *Channel) HasFlag(f ChanFlags) bool {
	return c.Flags&f != 0
}

// IsFounder reports whether account is the channel's founder.
func (c *Channel) IsFounder(account string) bool {
	return account != "" && Equal(c.Founder, account)
}

// IsSuccessor reports whether account is the channel's successor.
func (c *Channel) IsSuccessor(account string) bool {
	return account != "" && c.Successor != "" && Equal(c.Successor, account)
}

// RoleOf returns the account's role on the channel.
func (c *Channel) RoleOf(account string) Role {
	if account == "" {
		return RoleNone
	}
	return c.Access[Fold(account)]
}

// SetRole replaces the account's role. RoleNone removes the entry.
func (c *Channel) SetRole(account string, r Role) {
	if c.Access == nil {
		c.Access = make(map[string]Role)
	}
	key := Fold(account)
	if r == RoleNone {
		delete(c.Access, key)
		return
	}
	c.Access[key] = r
}

// Meta returns a metadata value and whether it is present.
func (c *Channel) Meta(key string) (string, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// SetMeta writes a metadata entry, overwriting any previous value.
func (c *Channel) SetMeta(key, value string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
}

// DeleteMeta removes a metadata entry. It reports whether the key existed.
func (c *Channel) DeleteMeta(key string) bool {
	if _, ok := c.Metadata[key]; !ok {
		return false
	}
	delete(c.Metadata, key)
	return true
}

// IsClosed reports whether staff have closed the channel.
func (c *Channel) IsClosed() bool {
	_, ok := c.Metadata[MetaCloser]
	return ok
}
