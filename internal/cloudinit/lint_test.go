package cloudinit

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func testPublicKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert key: %v", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " test@example.com"
}

func TestLintUserData(t *testing.T) {
	key := testPublicKey(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "valid top-level key",
			content: "#cloud-config\nssh_authorized_keys:\n  - " + key + "\n",
		},
		{
			name:    "valid user key",
			content: "#cloud-config\nusers:\n  - default\n  - name: ops\n    ssh_authorized_keys:\n      - " + key + "\n",
		},
		{
			name:    "shell script is not inspected",
			content: "#!/bin/sh\necho {{{\n",
		},
		{
			name:    "invalid top-level key",
			content: "#cloud-config\nssh_authorized_keys:\n  - ssh-rsa AAAA...\n",
			wantErr: "ssh_authorized_keys[0]",
		},
		{
			name:    "invalid user key",
			content: "#cloud-config\nusers:\n  - name: ops\n    ssh_authorized_keys:\n      - " + key + "\n      - not-a-key\n",
			wantErr: "users[0].ssh_authorized_keys[1]",
		},
		{
			name:    "broken yaml",
			content: "#cloud-config\nssh_authorized_keys: [\n",
			wantErr: "not valid YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := LintUserData(tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("LintUserData() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("LintUserData() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
