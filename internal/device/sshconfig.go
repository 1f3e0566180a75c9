package device

import (
	"os"
	"path/filepath"
	"strconv"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/agent462/muster/internal/pathutil"
)

// resolveEndpoint fills unset endpoint fields from the factory config,
// ~/.ssh/config, and process defaults, in that order.
func (f *SSHFactory) resolveEndpoint(ep Endpoint) Endpoint {
	if ep.Username == "" {
		ep.Username = f.conf.User
	}
	if ep.Username == "" {
		ep.Username = sshConfigGet(ep.Address, "User")
	}
	if ep.Username == "" {
		ep.Username = os.Getenv("USER")
	}

	if ep.Port == 0 {
		ep.Port = f.conf.Port
	}
	if ep.Port == 0 {
		if port, err := strconv.Atoi(sshConfigGet(ep.Address, "Port")); err == nil && port > 0 {
			ep.Port = port
		}
	}
	if ep.Port == 0 {
		ep.Port = 22
	}

	if ep.DisplayName == "" {
		ep.DisplayName = ep.Address
	}

	return ep
}

// identityFiles returns the private key paths to try for a host: explicit
// config first, then ssh_config's IdentityFile, then default locations.
// Only files that exist are returned.
func (f *SSHFactory) identityFiles(host string) []string {
	if len(f.conf.IdentityFiles) > 0 {
		var files []string
		for _, file := range f.conf.IdentityFiles {
			expanded := pathutil.ExpandHome(file)
			if _, err := os.Stat(expanded); err == nil {
				files = append(files, expanded)
			}
		}
		return files
	}

	var files []string
	if identity := sshConfigGet(host, "IdentityFile"); identity != "" {
		expanded := pathutil.ExpandHome(identity)
		if _, err := os.Stat(expanded); err == nil {
			files = append(files, expanded)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	defaults := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	}
	for _, file := range defaults {
		if _, err := os.Stat(file); err == nil {
			files = append(files, file)
		}
	}

	return files
}

// sshConfigGet looks up a key for a host in the user's SSH config.
func sshConfigGet(hostname, key string) string {
	val, err := sshconfig.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}
