// Package auth decides whether the current identity may use the chat.
package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Decision int

const (
	// SignInRequired means no identity is known yet.
	SignInRequired Decision = iota
	Denied
	Granted
)

func (d Decision) String() string {
	switch d {
	case SignInRequired:
		return "sign-in required"
	case Denied:
		return "denied"
	default:
		return "granted"
	}
}

// Gate is an allow-list of exact identities and e-mail domains. An empty gate
// admits every non-blank identity.
type Gate struct {
	users   map[string]struct{}
	domains []string
}

func NewGate(users, domains []string) *Gate {
	g := &Gate{users: make(map[string]struct{}, len(users))}
	for _, u := range users {
		u = normalize(u)
		if u != "" {
			g.users[u] = struct{}{}
		}
	}
	for _, d := range domains {
		d = strings.TrimPrefix(normalize(d), "@")
		if d != "" {
			g.domains = append(g.domains, d)
		}
	}
	return g
}

func (g *Gate) Open() bool {
	return len(g.users) == 0 && len(g.domains) == 0
}

func (g *Gate) Check(identity string) Decision {
	id := normalize(identity)
	if id == "" {
		return SignInRequired
	}
	if g.Open() {
		return Granted
	}
	if _, ok := g.users[id]; ok {
		return Granted
	}
	for _, d := range g.domains {
		if strings.HasSuffix(id, "@"+d) {
			return Granted
		}
	}
	return Denied
}

func (g *Gate) Allowed(identity string) bool {
	return g.Check(identity) == Granted
}

// Allowlist is the on-disk TOML form of a Gate.
type Allowlist struct {
	Users   []string `toml:"users"`
	Domains []string `toml:"domains"`
}

// LoadAllowlist reads a TOML allow-list. A missing file yields an empty list.
func LoadAllowlist(path string) (Allowlist, error) {
	var al Allowlist
	if strings.TrimSpace(path) == "" {
		return al, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return al, nil
		}
		return al, fmt.Errorf("stat allowlist: %w", err)
	}
	if _, err := toml.DecodeFile(path, &al); err != nil {
		return al, fmt.Errorf("decode allowlist %s: %w", path, err)
	}
	return al, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
