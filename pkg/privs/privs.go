// Package privs resolves services privileges for sessions and accounts
// through named oper classes.
package privs

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

// Privilege identifiers.
const (
	UserAuspex    = "user:auspex"
	UserAdmin     = "user:admin"
	UserSendpass  = "user:sendpass"
	UserVHost     = "user:vhost"
	UserFRegister = "user:fregister"
	ChanAuspex    = "chan:auspex"
	ChanAdmin     = "chan:admin"
	ChanCModes    = "chan:cmodes"
	JoinStaffOnly = "chan:joinstaffonly"
	Mark          = "user:mark"
	Hold          = "user:hold"
	RegNoLimit    = "user:regnolimit"
	ServerAuspex  = "general:auspex"
	ViewPrivs     = "general:viewprivs"
	Flood         = "general:flood"
	Admin         = "general:admin"
	Metadata      = "general:metadata"
	OMode         = "operserv:omode"
	AKill         = "operserv:akill"
	MassAKill     = "operserv:massakill"
	Jupe          = "operserv:jupe"
	NoOp          = "operserv:noop"
	Global        = "operserv:global"
	Grant         = "operserv:grant"
	Override      = "operserv:override"
)

// IRCOpClass is the class applied to network operators who have no
// class of their own.
const IRCOpClass = "ircop"

// ClassConf is the configuration form of an oper class.
type ClassConf struct {
	Privs    []string `yaml:"privs"`
	Extends  string   `yaml:"extends"`
	NeedOper bool     `yaml:"need_oper"` // Privileges apply only while opered
}

// Class is a resolved oper class.
type Class struct {
	Name     string
	NeedOper bool
	privs    map[string]bool
}

// Has reports whether the class grants priv.
func (c *Class) Has(priv string) bool {
	return c != nil && c.privs[priv]
}

// Privs returns the class's privileges sorted by name.
func (c *Class) Privs() []string {
	out := make([]string, 0, len(c.privs))
	for p := range c.privs {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Registry holds the configured oper classes. It is safe for concurrent
// use and can be replaced wholesale on config reload.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewRegistry resolves conf into a registry.
func NewRegistry(conf map[string]ClassConf) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(conf); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps in a new set of classes. On error the old set is kept.
func (r *Registry) Replace(conf map[string]ClassConf) error {
	classes, err := resolve(conf)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.classes = classes
	r.mu.Unlock()
	return nil
}

func resolve(conf map[string]ClassConf) (map[string]*Class, error) {
	out := make(map[string]*Class, len(conf))
	for name := range conf {
		seen := []string{}
		privs := make(map[string]bool)
		cur := name
		for cur != "" {
			key := strings.ToLower(cur)
			if slices.Contains(seen, key) {
				return nil, fmt.Errorf("privs: oper class %q: extends loop via %q", name, cur)
			}
			seen = append(seen, key)
			cc, ok := lookupConf(conf, cur)
			if !ok {
				return nil, fmt.Errorf("privs: oper class %q extends unknown class %q", name, cur)
			}
			for _, p := range cc.Privs {
				privs[p] = true
			}
			cur = cc.Extends
		}
		cc, _ := lookupConf(conf, name)
		out[strings.ToLower(name)] = &Class{Name: name, NeedOper: cc.NeedOper, privs: privs}
	}
	return out, nil
}

func lookupConf(conf map[string]ClassConf, name string) (ClassConf, bool) {
	if cc, ok := conf[name]; ok {
		return cc, true
	}
	for k, cc := range conf {
		if strings.EqualFold(k, name) {
			return cc, true
		}
	}
	return ClassConf{}, false
}

// Class finds a class by name (case-insensitive).
func (r *Registry) Class(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[strings.ToLower(name)]
	return c, ok
}

// ClassFor returns the class that applies to a session, or nil. acct
// may be nil for sessions that are not logged in.
func (r *Registry) ClassFor(u *chandb.User, acct *chandb.Account) *Class {
	if acct != nil && acct.OperClass != "" {
		if c, ok := r.Class(acct.OperClass); ok && (!c.NeedOper || (u != nil && u.Oper)) {
			return c
		}
	}
	if u != nil && u.Oper {
		if c, ok := r.Class(IRCOpClass); ok {
			return c
		}
	}
	return nil
}

// Has reports whether a session holds priv.
func (r *Registry) Has(u *chandb.User, acct *chandb.Account, priv string) bool {
	return r.ClassFor(u, acct).Has(priv)
}

// HasAny reports whether a session holds any privilege at all.
func (r *Registry) HasAny(u *chandb.User, acct *chandb.Account) bool {
	c := r.ClassFor(u, acct)
	return c != nil && len(c.privs) > 0
}

// AccountHas checks a privilege from the account alone, as used when
// the account is not the one issuing the command (e.g. the target of a
// founder transfer). Classes that need oper status never match here.
func (r *Registry) AccountHas(acct *chandb.Account, priv string) bool {
	if acct == nil || acct.OperClass == "" {
		return false
	}
	c, ok := r.Class(acct.OperClass)
	return ok && !c.NeedOper && c.Has(priv)
}

// DefaultClasses is the built-in class set used when no config is given.
func DefaultClasses() map[string]ClassConf {
	return map[string]ClassConf{
		"user": {},
		IRCOpClass: {
			Privs: []string{UserAuspex, ChanAuspex, ServerAuspex, ViewPrivs, Flood, JoinStaffOnly},
		},
		"sra": {
			Extends: IRCOpClass,
			Privs: []string{
				UserAdmin, UserSendpass, UserVHost, UserFRegister, ChanAdmin, ChanCModes,
				Mark, Hold, RegNoLimit, Admin, Metadata, OMode, AKill, MassAKill,
				Jupe, NoOp, Global, Grant, Override,
			},
		},
	}
}
