package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGateCheck(t *testing.T) {
	g := NewGate([]string{" CLee@Example.com "}, []string{"@partner.org"})

	cases := []struct {
		identity string
		want     Decision
	}{
		{"", SignInRequired},
		{"   ", SignInRequired},
		{"clee@example.com", Granted},
		{"CLEE@EXAMPLE.COM", Granted},
		{"other@example.com", Denied},
		{"anyone@partner.org", Granted},
		{"anyone@notpartner.org", Denied},
		{"partner.org", Denied},
	}
	for _, tc := range cases {
		if got := g.Check(tc.identity); got != tc.want {
			t.Fatalf("identity=%q got=%v want=%v", tc.identity, got, tc.want)
		}
	}
}

func TestOpenGateAdmitsAnyIdentity(t *testing.T) {
	g := NewGate(nil, []string{"  "})
	if !g.Open() {
		t.Fatalf("expected open gate")
	}
	if !g.Allowed("someone@anywhere.io") {
		t.Fatalf("open gate should admit non-blank identity")
	}
	if g.Allowed("") {
		t.Fatalf("blank identity must never be allowed")
	}
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow.toml")
	body := "users = [\"a@example.com\", \"b@example.com\"]\ndomains = [\"example.org\"]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}

	al, err := LoadAllowlist(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(al.Users) != 2 || len(al.Domains) != 1 {
		t.Fatalf("unexpected allowlist: %#v", al)
	}

	g := NewGate(al.Users, al.Domains)
	if !g.Allowed("x@example.org") || !g.Allowed("b@example.com") || g.Allowed("c@example.com") {
		t.Fatalf("gate built from allowlist misbehaves")
	}
}

func TestLoadAllowlistMissingFile(t *testing.T) {
	al, err := LoadAllowlist(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(al.Users) != 0 || len(al.Domains) != 0 {
		t.Fatalf("expected empty allowlist, got %#v", al)
	}
}
