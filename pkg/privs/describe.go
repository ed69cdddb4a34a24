package privs

// Category groups privilege descriptions in the SPECS report.
type Category int

const (
	Accounts Category = iota
	Channels
	General
	OperServ
	numCategories
)

var categoryNames = [numCategories]string{"Nicknames/accounts", "Channels", "General", "OperServ"}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// Description is one row of the privilege table. A privilege may be
// described under more than one category; empty cells are skipped.
type Description struct {
	Priv string
	Text [numCategories]string
}

// Descriptions lists every known privilege in report order.
var Descriptions = []Description{
	{Priv: UserAuspex, Text: [numCategories]string{Accounts: "view concealed information"}},
	{Priv: UserAdmin, Text: [numCategories]string{Accounts: "drop accounts, freeze accounts, reset passwords"}},
	{Priv: UserSendpass, Text: [numCategories]string{Accounts: "send passwords"}},
	{Priv: UserVHost, Text: [numCategories]string{Accounts: "set vhosts"}},
	{Priv: UserFRegister, Text: [numCategories]string{Accounts: "register accounts on behalf of another user"}},

	{Priv: ChanAuspex, Text: [numCategories]string{Channels: "view concealed information"}},
	{Priv: ChanAdmin, Text: [numCategories]string{Channels: "drop channels, close channels, transfer ownership"}},
	{Priv: ChanCModes, Text: [numCategories]string{Channels: "mlock operator modes"}},
	{Priv: JoinStaffOnly, Text: [numCategories]string{Channels: "join staff channels"}},

	{Priv: Mark, Text: [numCategories]string{Accounts: "mark accounts", Channels: "mark channels"}},
	{Priv: Hold, Text: [numCategories]string{Accounts: "hold accounts", Channels: "hold channels"}},
	{Priv: RegNoLimit, Text: [numCategories]string{Channels: "bypass registration limits"}},

	{Priv: ServerAuspex, Text: [numCategories]string{General: "view concealed information"}},
	{Priv: ViewPrivs, Text: [numCategories]string{General: "view privileges of other users"}},
	{Priv: Flood, Text: [numCategories]string{General: "exempt from flood control"}},
	{Priv: Admin, Text: [numCategories]string{General: "administer services"}},
	{Priv: Metadata, Text: [numCategories]string{General: "edit private metadata"}},

	{Priv: OMode, Text: [numCategories]string{OperServ: "set channel modes"}},
	{Priv: AKill, Text: [numCategories]string{OperServ: "add and remove autokills"}},
	{Priv: MassAKill, Text: [numCategories]string{OperServ: "masskill channels or regexes"}},
	{Priv: Jupe, Text: [numCategories]string{OperServ: "jupe servers"}},
	{Priv: NoOp, Text: [numCategories]string{OperServ: "NOOP access"}},
	{Priv: Global, Text: [numCategories]string{OperServ: "send global notices"}},
	{Priv: Grant, Text: [numCategories]string{OperServ: "edit oper privileges"}},
	{Priv: Override, Text: [numCategories]string{OperServ: "perform actions as any other user"}},
}

// Group is one non-empty category of a report.
type Group struct {
	Category Category
	Items    []string
}

// Describe walks the table in order and groups the descriptions of
// every privilege for which has returns true. Empty categories are
// omitted.
func Describe(has func(priv string) bool) []Group {
	var items [numCategories][]string
	for _, d := range Descriptions {
		if !has(d.Priv) {
			continue
		}
		for c, text := range d.Text {
			if text != "" {
				items[c] = append(items[c], text)
			}
		}
	}
	var out []Group
	for c := range numCategories {
		if len(items[c]) > 0 {
			out = append(out, Group{Category: c, Items: items[c]})
		}
	}
	return out
}
