package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
	"github.com/crystal-mush/gochanserv/pkg/chanserv"
	"github.com/crystal-mush/gochanserv/pkg/modes"
	"github.com/crystal-mush/gochanserv/pkg/privs"
	"github.com/crystal-mush/gochanserv/pkg/registry"
	"gopkg.in/yaml.v3"
)

// ServicesConf holds the daemon configuration.
type ServicesConf struct {
	// --- Identity ---
	ServerName   string `yaml:"server_name"`
	ChanServNick string `yaml:"chanserv_nick"`
	OperServNick string `yaml:"operserv_nick"`

	// --- Uplink ---
	UplinkHost string `yaml:"uplink_host"` // Bind address (empty = all interfaces)
	UplinkPort int    `yaml:"uplink_port"`

	// --- Storage ---
	BoltPath string `yaml:"bolt_path"`
	AuditDB  string `yaml:"audit_db"` // SQLite audit table, empty = log only

	// --- Web ---
	WebEnabled bool   `yaml:"web_enabled"`
	WebHost    string `yaml:"web_host"`
	WebPort    int    `yaml:"web_port"`
	JWTSecret  string `yaml:"jwt_secret"` // Random per process if empty
	JWTExpiry  int    `yaml:"jwt_expiry"` // Seconds

	// --- Channel policy (reloadable) ---
	MaxChannelsPerAccount int           `yaml:"max_channels_per_account"` // 0 = unlimited
	MetadataLimit         int           `yaml:"metadata_limit"`
	TransferExpiry        time.Duration `yaml:"transfer_expiry"` // 0 = never
	OperOnlyModes         string        `yaml:"oper_only_modes"`
	ModeLetters           string        `yaml:"mode_letters"`

	// --- Privileges (reloadable) ---
	OperClasses map[string]privs.ClassConf `yaml:"oper_classes"`

	// AccountClasses assigns oper classes to accounts by name. Listed
	// accounts are reset to their class on every load and reload.
	AccountClasses map[string]string `yaml:"account_classes"`

	// --- Logging ---
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultServicesConf returns a ServicesConf with stock defaults.
func DefaultServicesConf() *ServicesConf {
	return &ServicesConf{
		ServerName:            "services.int",
		ChanServNick:          "ChanServ",
		OperServNick:          "OperServ",
		UplinkPort:            6660,
		BoltPath:              "data/gochanserv.db",
		WebEnabled:            false,
		WebPort:               8480,
		JWTExpiry:             86400,
		MaxChannelsPerAccount: 5,
		MetadataLimit:         10,
		TransferExpiry:        14 * 24 * time.Hour,
		OperOnlyModes:         "O",
		ModeLetters:           modes.DefaultLetters,
		OperClasses:           privs.DefaultClasses(),
		LogLevel:              "info",
	}
}

// LoadServicesConf loads a YAML config file over the defaults. Relative
// storage paths are resolved against the config file's directory.
func LoadServicesConf(path string) (*ServicesConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	sc := DefaultServicesConf()
	// A file that names its own classes replaces the built-in set.
	sc.OperClasses = nil
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	if sc.OperClasses == nil {
		sc.OperClasses = privs.DefaultClasses()
	}

	baseDir := filepath.Dir(path)
	for _, p := range []*string{&sc.BoltPath, &sc.AuditDB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate checks the values that cannot be fixed up by defaults.
func (sc *ServicesConf) Validate() error {
	if sc.MaxChannelsPerAccount < 0 {
		return fmt.Errorf("max_channels_per_account must not be negative")
	}
	if sc.MetadataLimit < 0 {
		return fmt.Errorf("metadata_limit must not be negative")
	}
	if sc.TransferExpiry < 0 {
		return fmt.Errorf("transfer_expiry must not be negative")
	}
	t, err := sc.ModeTable()
	if err != nil {
		return err
	}
	for i := 0; i < len(sc.OperOnlyModes); i++ {
		if t.Bit(sc.OperOnlyModes[i]) == 0 {
			return fmt.Errorf("oper_only_modes: %q is not in mode_letters", sc.OperOnlyModes[i])
		}
	}
	for acct, class := range sc.AccountClasses {
		if class == "" {
			continue
		}
		if !sc.hasClass(class) {
			return fmt.Errorf("account_classes: %s: no oper class %q", acct, class)
		}
	}
	return nil
}

func (sc *ServicesConf) hasClass(name string) bool {
	for k := range sc.OperClasses {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// AccountClass returns the class account_classes assigns to account.
func (sc *ServicesConf) AccountClass(account string) (string, bool) {
	for k, class := range sc.AccountClasses {
		if chandb.Equal(k, account) {
			return class, true
		}
	}
	return "", false
}

// ModeTable builds the mode-letter table.
func (sc *ServicesConf) ModeTable() (*modes.Table, error) {
	if sc.ModeLetters == "" {
		return modes.DefaultTable(), nil
	}
	t, err := modes.NewTable(sc.ModeLetters)
	if err != nil {
		return nil, fmt.Errorf("mode_letters: %w", err)
	}
	return t, nil
}

// RegistryOptions returns the registry tunables. Accounts whose class
// carries user:regnolimit are exempt from the founder cap.
func (sc *ServicesConf) RegistryOptions(pr *privs.Registry) registry.Options {
	return registry.Options{
		MaxFounded:    sc.MaxChannelsPerAccount,
		MetadataLimit: sc.MetadataLimit,
		Exempt: func(a *chandb.Account) bool {
			return pr.AccountHas(a, privs.RegNoLimit)
		},
	}
}

// ChanServPolicy returns the ChanServ tunables for table t.
func (sc *ServicesConf) ChanServPolicy(t *modes.Table) chanserv.Policy {
	return chanserv.Policy{
		Nick:           sc.ChanServNick,
		Table:          t,
		OperOnlyModes:  t.Parse(sc.OperOnlyModes),
		TransferExpiry: sc.TransferExpiry,
	}
}

// UplinkAddr is the uplink listen address.
func (sc *ServicesConf) UplinkAddr() string {
	return fmt.Sprintf("%s:%d", sc.UplinkHost, sc.UplinkPort)
}
