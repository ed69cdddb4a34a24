package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/audit"
	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/chanserv"
	"github.com/crystal-mush/gochanserv/pkg/events"
	"github.com/crystal-mush/gochanserv/pkg/network"
	"github.com/crystal-mush/gochanserv/pkg/operserv"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Services ties the registry, the live network and the service
// handlers together.
type Services struct {
	Bus      *events.Bus
	Registry *registry.Registry
	Privs    *privs.Registry
	Network  *network.Network
	Audit    *audit.Recorder
	ChanServ *chanserv.Service
	OperServ *operserv.Service
	Metrics  *Metrics

	mu       sync.RWMutex
	conf     *ServicesConf
	confPath string
}

// Options configures NewServices.
type Options struct {
	Store      registry.Store        // nil for an in-memory registry
	Registerer prometheus.Registerer // nil disables metrics
	Gatherer   prometheus.Gatherer
	Sinks      []audit.Sink // in addition to the bus sink
	ConfPath   string       // watched for reloads
}

// NewServices builds the services from conf.
func NewServices(conf *ServicesConf, opts Options) (*Services, error) {
	pr, err := privs.NewRegistry(conf.OperClasses)
	if err != nil {
		return nil, fmt.Errorf("oper_classes: %w", err)
	}
	tbl, err := conf.ModeTable()
	if err != nil {
		return nil, err
	}

	s := &Services{
		Bus:      events.NewBus(),
		Privs:    pr,
		conf:     conf,
		confPath: opts.ConfPath,
	}
	s.Registry = registry.New(opts.Store, conf.RegistryOptions(pr))
	s.Network = network.New(conf.ServerName, s.Bus, tbl)

	sinks := append([]audit.Sink{audit.BusSink{Bus: s.Bus}}, opts.Sinks...)
	s.Audit = audit.NewRecorder(sinks...)

	s.ChanServ = chanserv.New(s.Registry, pr, s.Network, s.Audit, conf.ChanServPolicy(tbl))
	s.ChanServ.Attach(s.Network)
	s.OperServ = operserv.New(conf.OperServNick, s.Registry, pr, s.Network, s.Audit)

	if opts.Registerer != nil {
		g := opts.Gatherer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		s.Metrics = NewMetrics(s, opts.Registerer, g, time.Now())
		s.ChanServ.OnCommand(s.Metrics.CommandHook("chanserv"))
		s.OperServ.OnCommand(s.Metrics.CommandHook("operserv"))
		s.Audit.OnRecord(s.Metrics.AuditHook)
	}

	// Service pseudo-clients are internal users on the network.
	for _, nick := range []string{s.ChanServ.Nick(), s.OperServ.Nick()} {
		s.Network.Introduce(chandb.User{Nick: nick, Internal: true})
	}
	return s, nil
}

// Conf returns the active configuration.
func (s *Services) Conf() *ServicesConf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf
}

// Dispatch routes a private message to the service named target. It
// reports whether target is one of ours.
func (s *Services) Dispatch(ctx context.Context, nick, target, text string) bool {
	switch {
	case chandb.Equal(target, s.ChanServ.Nick()):
		s.ChanServ.Handle(ctx, nick, text)
	case chandb.Equal(target, s.OperServ.Nick()):
		s.OperServ.Handle(ctx, nick, text)
	default:
		return false
	}
	return true
}

// Apply swaps in the reloadable parts of conf: channel limits, transfer
// expiry, the mode table and oper classes. Identity, storage and
// listener settings only take effect on restart.
func (s *Services) Apply(conf *ServicesConf) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	tbl, err := conf.ModeTable()
	if err != nil {
		return err
	}
	if err := s.Privs.Replace(conf.OperClasses); err != nil {
		return fmt.Errorf("oper_classes: %w", err)
	}

	s.mu.Lock()
	old := s.conf
	merged := *conf
	merged.ServerName = old.ServerName
	merged.ChanServNick = old.ChanServNick
	merged.OperServNick = old.OperServNick
	s.conf = &merged
	s.mu.Unlock()

	s.Registry.SetOptions(merged.RegistryOptions(s.Privs))
	s.Network.SetTable(tbl)
	s.ChanServ.SetPolicy(merged.ChanServPolicy(tbl))
	s.ApplyAccountClasses()

	log.Info().Str("component", "server").
		Int("max_channels", merged.MaxChannelsPerAccount).
		Int("metadata_limit", merged.MetadataLimit).
		Dur("transfer_expiry", merged.TransferExpiry).
		Int("oper_classes", len(merged.OperClasses)).
		Msg("configuration applied")
	return nil
}

// NotifyOpers sends a notice from OperServ to every online session
// holding general:admin.
func (s *Services) NotifyOpers(text string) {
	var nicks []string
	for _, u := range s.Network.Users() {
		if u.Internal {
			continue
		}
		var acct *chandb.Account
		if u.LoggedIn() {
			acct, _ = s.Registry.Account(u.Account)
		}
		if s.Privs.Has(&u, acct, privs.Admin) {
			nicks = append(nicks, u.Nick)
		}
	}
	s.Network.NoticeAll(s.OperServ.Nick(), nicks, text)
}

// AccountChange updates an account's staff settings. Nil fields are
// left alone; an empty Class clears the account's class.
type AccountChange struct {
	Class *string
	NoOp  *bool
}

// SetAccount registers name if it is new and applies ch. A new account
// starts with the class account_classes gives it, if any.
func (s *Services) SetAccount(name string, ch AccountChange, now time.Time) error {
	if ch.Class != nil && *ch.Class != "" {
		if _, ok := s.Privs.Class(*ch.Class); !ok {
			return fmt.Errorf("no oper class %q", *ch.Class)
		}
	}
	acct := &chandb.Account{Name: name, Registered: now}
	acct.OperClass, _ = s.Conf().AccountClass(name)
	err := s.Registry.RegisterAccount(acct)
	if err != nil && !errors.Is(err, registry.ErrExists) {
		return err
	}
	if ch.Class == nil && ch.NoOp == nil {
		return nil
	}
	err = s.Registry.UpdateAccount(name, func(a *chandb.Account) {
		if ch.Class != nil {
			a.OperClass = *ch.Class
		}
		if ch.NoOp != nil {
			if *ch.NoOp {
				a.Flags |= chandb.AccountNoOp
			} else {
				a.Flags &^= chandb.AccountNoOp
			}
		}
	})
	if err != nil {
		return err
	}
	a, _ := s.Registry.Account(name)
	log.Info().Str("component", "server").Str("account", a.Name).
		Str("class", a.OperClass).Bool("noop", a.Has(chandb.AccountNoOp)).
		Msg("account updated")
	return nil
}

// ApplyAccountClasses sets the oper class of every registered account
// named in account_classes. Accounts not yet registered pick up their
// class when they first appear.
func (s *Services) ApplyAccountClasses() {
	for name, class := range s.Conf().AccountClasses {
		a, ok := s.Registry.Account(name)
		if !ok || a.OperClass == class {
			continue
		}
		err := s.Registry.UpdateAccount(name, func(a *chandb.Account) { a.OperClass = class })
		if err != nil {
			log.Warn().Err(err).Str("component", "server").Str("account", name).Msg("applying account class failed")
			continue
		}
		log.Info().Str("component", "server").Str("account", a.Name).Str("class", class).Msg("account class applied")
	}
}
