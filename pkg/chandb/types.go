package chandb

import "time"

// AccountFlags are per-account option bits.
type AccountFlags int

// AccountNoOp marks an account that does not wish to be added to
// access lists.
const AccountNoOp AccountFlags = 0x00000001

// Account is a registered services account.
type Account struct {
	Name       string
	Registered time.Time
	Flags      AccountFlags
	OperClass  string // Empty = no services privileges
}

// Has reports whether all bits in f are set on the account.
func (a *Account) Has(f AccountFlags) bool {
	return a.Flags&f == f
}

// User is an online session as seen by services. An account can have
// several sessions at once.
type User struct {
	Nick     string
	Account  string // Logged-in account name, empty if not logged in
	Oper     bool   // Network operator (umode +o)
	Internal bool   // Services' own pseudo-clients
}

// LoggedIn reports whether the session is identified to an account.
func (u *User) LoggedIn() bool {
	return u != nil && u.Account != ""
}

// Role is the single access role an account holds on a channel.
// Roles are mutually exclusive: assigning one replaces any other.
type Role int

const (
	RoleNone Role = iota
	RoleVOP
	RoleHOP
	RoleAOP
	RoleSOP
	RoleSuccessor
	RoleFounder
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "NONE"
	case RoleVOP:
		return "VOP"
	case RoleHOP:
		return "HOP"
	case RoleAOP:
		return "AOP"
	case RoleSOP:
		return "SOP"
	case RoleSuccessor:
		return "SUCCESSOR"
	case RoleFounder:
		return "FOUNDER"
	default:
		return "UNKNOWN"
	}
}

// Capability is a permission derived from a Role.
type Capability int

// CapSet allows changing channel attributes.
const CapSet Capability = iota

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	switch c {
	case CapSet:
		return r >= RoleSOP
	}
	return false
}

// ChanFlags are per-channel boolean settings.
type ChanFlags int

const (
	ChanSecure    ChanFlags = 0x00000001 // Only access-list members may be opped
	ChanVerbose   ChanFlags = 0x00000002 // Announce access changes to the channel
	ChanStaffOnly ChanFlags = 0x00000004 // Only staff may join
	ChanKeepTopic ChanFlags = 0x00000008 // Restore the topic on recreation
)

// ModeBits is a set of simple channel modes. Each letter owns a fixed
// bit (a-z then A-Z), so persisted locks keep their meaning whatever
// the configured mode table. The two high bits are reserved for the
// key and limit modes, which only ever appear in the locked-off set.
type ModeBits uint64

const (
	ModeKey   ModeBits = 1 << 62
	ModeLimit ModeBits = 1 << 63

	// ModeReserved covers the bits the mode table must not hand out.
	ModeReserved = ModeKey | ModeLimit
)

// ModeLock is a compiled mode lock. Key and Limit are the locked-on
// values for +k and +l; a zero value means not locked on.
type ModeLock struct {
	On    ModeBits
	Off   ModeBits
	Limit int
	Key   string
}

// Empty reports whether the lock forces nothing.
func (m ModeLock) Empty() bool {
	return m.On == 0 && m.Off == 0 && m.Limit == 0 && m.Key == ""
}

// PendingTransfer is an outstanding founder change awaiting confirmation
// by Candidate.
type PendingTransfer struct {
	Candidate string
	Since     time.Time
}

// Metadata keys used by services themselves.
const (
	MetaURL         = "url"
	MetaEmail       = "email"
	MetaEntryMsg    = "private:entrymsg"
	MetaTopicText   = "private:topic:text"
	MetaTopicSetter = "private:topic:setter"
	MetaTopicTS     = "private:topic:ts"
	MetaCloser      = "private:close:closer"
)
