package storage

import (
	"bufio"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"
)

// Ownership is the numeric owner applied to pools and volumes so the
// QEMU process can open them.
type Ownership struct {
	UID string
	GID string
}

// fallbackOwnership is the Fedora/RHEL default qemu uid/gid.
var fallbackOwnership = Ownership{UID: "107", GID: "107"}

const qemuConfPath = "/etc/libvirt/qemu.conf"

var (
	qemuOwner Ownership
	qemuOnce  sync.Once
)

// QEMUOwnership returns the owner of the QEMU process. It reads the
// configured user and group from qemu.conf, then tries the common qemu
// account names, then falls back to 107:107. The result is cached.
func QEMUOwnership() Ownership {
	qemuOnce.Do(func() {
		username, groupname := readQEMUConf(qemuConfPath)
		qemuOwner = resolveOwnership(username, groupname, user.Lookup, user.LookupGroup)
	})
	return qemuOwner
}

func resolveOwnership(
	username, groupname string,
	lookupUser func(string) (*user.User, error),
	lookupGroup func(string) (*user.Group, error),
) Ownership {
	candidates := []string{"qemu", "libvirt-qemu"}
	if username != "" {
		candidates = append([]string{username}, candidates...)
	}

	for i, name := range candidates {
		u, err := lookupUser(name)
		if err != nil {
			continue
		}
		owner := Ownership{UID: u.Uid, GID: u.Gid}
		// The configured group only applies to the configured user.
		if i == 0 && username != "" && groupname != "" {
			if g, err := lookupGroup(groupname); err == nil {
				owner.GID = g.Gid
			}
		}
		return owner
	}

	return fallbackOwnership
}

func readQEMUConf(path string) (username, groupname string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer func() { _ = f.Close() }()

	return parseQEMUConf(f)
}

// parseQEMUConf extracts the user and group settings from qemu.conf
// content. Values may be single or double quoted.
func parseQEMUConf(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}

	return username, groupname
}
