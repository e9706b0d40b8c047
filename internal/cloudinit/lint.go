package cloudinit

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// cloudConfigHeader marks user-data written in cloud-config format.
const cloudConfigHeader = "#cloud-config"

type cloudConfig struct {
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
	Users             []any    `yaml:"users"`
}

type cloudConfigUser struct {
	Name              string   `yaml:"name"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

// LintUserData checks user-data that declares itself cloud-config: it must
// parse as YAML and every ssh_authorized_keys entry, top-level or per user,
// must be a valid SSH public key. Other user-data formats (shell scripts,
// MIME multipart) are not inspected.
func LintUserData(content string) error {
	if !strings.HasPrefix(strings.TrimLeft(content, " \t\r\n"), cloudConfigHeader) {
		return nil
	}

	var cc cloudConfig
	if err := yaml.Unmarshal([]byte(content), &cc); err != nil {
		return fmt.Errorf("cloud-config is not valid YAML: %w", err)
	}

	for i, key := range cc.SSHAuthorizedKeys {
		if err := checkKey(key); err != nil {
			return fmt.Errorf("ssh_authorized_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}

	for i, raw := range cc.Users {
		// "default" and other scalar entries carry no keys.
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out, err := yaml.Marshal(m)
		if err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		var u cloudConfigUser
		if err := yaml.Unmarshal(out, &u); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		for j, key := range u.SSHAuthorizedKeys {
			if err := checkKey(key); err != nil {
				return fmt.Errorf("users[%d].ssh_authorized_keys[%d] is not a valid SSH public key: %w", i, j, err)
			}
		}
	}

	return nil
}

func checkKey(key string) error {
	_, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
	return err
}
