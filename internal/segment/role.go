package segment

import "strings"

// Role is the speaker category assigned to a block.
type Role string

const (
	RoleCEO      Role = "CEO"
	RoleCFO      Role = "CFO"
	RoleAnalyst  Role = "ANALYST"
	RoleOperator Role = "OPERATOR"
	RoleIR       Role = "IR"
	RoleUnknown  Role = "UNKNOWN"
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleCEO, RoleCFO, RoleAnalyst, RoleOperator, RoleIR, RoleUnknown}

type roleKeyword struct {
	keyword string
	role    Role
}

// Order matters: the first keyword contained in the phrase wins.
var roleTable = []roleKeyword{
	{"CHIEF EXECUTIVE OFFICER", RoleCEO},
	{"CHIEF FINANCIAL OFFICER", RoleCFO},
	{"CEO", RoleCEO},
	{"CFO", RoleCFO},
	{"ANALYST", RoleAnalyst},
	{"OPERATOR", RoleOperator},
	{"INVESTOR RELATIONS", RoleIR},
}

// NormalizeRole maps a free-text role phrase such as
// "Chief Financial Officer, Director" onto a Role. Phrases that match no
// keyword yield RoleUnknown; callers should read that as "not determined".
func NormalizeRole(phrase string) Role {
	if strings.TrimSpace(phrase) == "" {
		return RoleUnknown
	}
	upper := strings.ToUpper(phrase)
	for _, rk := range roleTable {
		if strings.Contains(upper, rk.keyword) {
			return rk.role
		}
	}
	if strings.Contains(upper, "ANALYST") {
		return RoleAnalyst
	}
	return RoleUnknown
}

// ParseRole converts a stored role string back into a Role.
func ParseRole(s string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r
		}
	}
	return RoleUnknown
}
