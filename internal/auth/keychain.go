package auth

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// KeychainService is the keychain entry external tooling stores its OAuth
// credentials under.
const KeychainService = "Claude Code-credentials"

// KeychainTimeout bounds one keychain lookup.
const KeychainTimeout = 5 * time.Second

// Keychain resolves a token from a platform credential store.
type Keychain interface {
	// Token returns the stored token, or empty when the platform has no
	// credential store integration or the entry is absent.
	Token(ctx context.Context) string
	// Name labels the store for source reporting.
	Name() string
}

// securityKeychain reads the macOS keychain through the security tool. On
// every other platform it resolves nothing; those are served by environment
// variables and credential files.
type securityKeychain struct{}

func (securityKeychain) Name() string { return "macOS Keychain" }

func (securityKeychain) Token(ctx context.Context) string {
	if runtime.GOOS != "darwin" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, KeychainTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/usr/bin/security",
		"find-generic-password", "-s", KeychainService, "-w")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ""
	}

	token := parseAccessToken([]byte(strings.TrimSpace(stdout.String())))
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	return token
}
