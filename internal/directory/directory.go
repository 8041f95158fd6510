// Package directory holds the caller and staff lists consulted when a call
// arrives. A Snapshot is immutable once loaded and safe to share.
package directory

import (
	"strings"
)

// DefaultBlocklist is used when no blocklist file is configured.
var DefaultBlocklist = []string{"234567890", "2092841212", "6505131145"}

// DefaultDepartments maps departments to their extensions.
var DefaultDepartments = map[string]string{
	"billing":    "103",
	"scheduling": "102",
	"lab":        "104",
}

// Customer is a known caller.
type Customer struct {
	Name        string `json:"name" yaml:"name"`
	PhoneNumber string `json:"phoneNumber" yaml:"phoneNumber"`
}

// Agent is a staff member reachable by extension.
type Agent struct {
	Name            string `json:"name" yaml:"name"`
	Department      string `json:"department" yaml:"department"`
	ExtensionNumber string `json:"extensionNumber" yaml:"extensionNumber"`
}

// Snapshot is an immutable view of the directories.
type Snapshot struct {
	blocked     map[string]struct{}
	customers   map[string]Customer
	agents      []Agent
	departments map[string]string
}

// New builds a snapshot. Agents with a department override the extension
// of that department; the first agent with an extension also serves as the
// general line when no general extension is configured.
func New(blocked []string, customers []Customer, agents []Agent, departments map[string]string) *Snapshot {
	s := &Snapshot{
		blocked:     make(map[string]struct{}, len(blocked)),
		customers:   make(map[string]Customer, len(customers)),
		agents:      append([]Agent(nil), agents...),
		departments: make(map[string]string, len(departments)+1),
	}
	for _, n := range blocked {
		if n = NormalizeNumber(n); n != "" {
			s.blocked[n] = struct{}{}
		}
	}
	for _, c := range customers {
		if n := NormalizeNumber(c.PhoneNumber); n != "" {
			c.PhoneNumber = n
			s.customers[n] = c
		}
	}
	for d, ext := range departments {
		s.departments[strings.ToLower(d)] = ext
	}
	for _, a := range agents {
		if a.Department != "" && a.ExtensionNumber != "" {
			s.departments[strings.ToLower(a.Department)] = a.ExtensionNumber
		}
	}
	if _, ok := s.departments["general"]; !ok {
		for _, a := range agents {
			if a.ExtensionNumber != "" {
				s.departments["general"] = a.ExtensionNumber
				break
			}
		}
	}
	return s
}

// NormalizeNumber strips formatting and a leading +1 country code.
func NormalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range n {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// IsBlocked reports whether number is on the blocklist.
func (s *Snapshot) IsBlocked(number string) bool {
	_, ok := s.blocked[NormalizeNumber(number)]
	return ok
}

// Customer returns the customer registered for number.
func (s *Snapshot) Customer(number string) (Customer, bool) {
	c, ok := s.customers[NormalizeNumber(number)]
	return c, ok
}

// Extension returns the transfer extension for a department.
func (s *Snapshot) Extension(department string) (string, bool) {
	ext, ok := s.departments[strings.ToLower(department)]
	return ext, ok && ext != ""
}

// Agents returns a copy of the agent list.
func (s *Snapshot) Agents() []Agent {
	return append([]Agent(nil), s.agents...)
}

// Counts reports the sizes of the lists.
func (s *Snapshot) Counts() (blocked, customers, agents int) {
	return len(s.blocked), len(s.customers), len(s.agents)
}
