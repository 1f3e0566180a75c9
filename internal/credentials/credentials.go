// Package credentials resolves the username and password used to open
// device sessions.
package credentials

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v3"
)

// Credentials is a username/password pair for one device.
type Credentials struct {
	Username string
	Password string
}

// Source yields credentials for a host address. Sources are read-only after
// construction and safe for concurrent Lookup calls.
type Source interface {
	Lookup(host string) (Credentials, error)
}

// Static returns the same credentials for every host. An empty username
// falls back to the current OS user.
type Static struct {
	Username string
	Password string
}

func (s Static) Lookup(host string) (Credentials, error) {
	username := s.Username
	if username == "" {
		username = currentUsername()
	}
	return Credentials{Username: username, Password: s.Password}, nil
}

// Accounts resolves credentials from an ordered list of glob rules.
// The first rule whose pattern matches the host address wins; an empty
// username in the winning rule falls back to the current OS user.
type Accounts struct {
	entries []accountEntry
}

type accountEntry struct {
	Match    string `yaml:"match"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password"`
}

// LoadAccounts reads an accounts YAML file: a list of entries, each with a
// glob pattern and the credentials to use for hosts it matches.
//
//	- match: "*.core.example.net"
//	  username: netops
//	  password: hunter2
//	- match: "10.20.*"
//	  password: lab-password
func LoadAccounts(file string) (*Accounts, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading accounts file: %w", err)
	}

	var entries []accountEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing accounts file: %w", err)
	}

	for i, e := range entries {
		if e.Match == "" {
			return nil, fmt.Errorf("accounts entry %d has no match pattern", i)
		}
		if _, err := path.Match(e.Match, "probe"); err != nil {
			return nil, fmt.Errorf("accounts entry %d: bad pattern %q", i, e.Match)
		}
	}

	return &Accounts{entries: entries}, nil
}

// Len returns the number of account entries.
func (a *Accounts) Len() int {
	return len(a.entries)
}

func (a *Accounts) Lookup(host string) (Credentials, error) {
	for _, e := range a.entries {
		// Patterns were validated at load time.
		ok, _ := path.Match(e.Match, host)
		if !ok {
			continue
		}
		username := e.Username
		if username == "" {
			username = currentUsername()
		}
		return Credentials{Username: username, Password: e.Password}, nil
	}
	return Credentials{}, fmt.Errorf("no account entry matches host %s", host)
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
