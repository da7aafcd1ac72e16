// Package auth resolves the OAuth token the engine hands to external
// code-generation tooling. Resolution walks a fixed chain: environment
// variables, then a credentials directory, then the platform keychain.
// Encrypted (enc:-prefixed) tokens are rejected with a re-authentication
// diagnostic; nothing here ever decrypts.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	clierrors "github.com/specforge/specforge/internal/errors"
	"github.com/specforge/specforge/internal/logging"
)

// Environment variables consulted during resolution.
const (
	// EnvOAuthToken and EnvAuthToken are checked for a token, in that order.
	EnvOAuthToken = "CLAUDE_CODE_OAUTH_TOKEN"
	EnvAuthToken  = "ANTHROPIC_AUTH_TOKEN"
	// EnvConfigDir points resolution at an alternate credentials directory.
	EnvConfigDir = "CLAUDE_CONFIG_DIR"
)

// TokenPrefix is the plaintext OAuth token format credential stores hand out.
const TokenPrefix = "sk-ant-oat01-"

// encryptedPrefix marks tokens an external keychain wrapped. They are
// unusable as-is and stop the chain instead of falling through, so the
// broken source is surfaced rather than silently overridden.
const encryptedPrefix = "enc:"

var (
	tokenEnvVars     = []string{EnvOAuthToken, EnvAuthToken}
	credentialsFiles = []string{".credentials.json", "credentials.json"}
)

// ErrNoToken reports that every source in the chain came up empty.
var ErrNoToken = errors.New("no auth token found")

// TokenProvider resolves an authentication token for external tooling.
type TokenProvider interface {
	// Token returns the resolved token, or ErrNoToken when no source has one.
	Token(ctx context.Context) (string, error)
	// Source names where the token came from, empty when nothing resolves.
	Source(ctx context.Context) string
}

// IsEncrypted reports whether the token carries the enc: envelope prefix.
func IsEncrypted(token string) bool {
	return strings.HasPrefix(token, encryptedPrefix)
}

// ChainProvider is the standard resolution chain. The zero value resolves
// from the host environment; fields narrow the lookup for tests and
// embedding applications.
type ChainProvider struct {
	// ConfigDir overrides the credentials directory. Empty consults the
	// CLAUDE_CONFIG_DIR environment variable, then ~/.claude.
	ConfigDir string
	// Keychain overrides platform keychain lookup. Nil uses the host's.
	Keychain Keychain
	// Logger receives resolution debug lines. Nil discards.
	Logger *slog.Logger

	env func(string) string
}

var _ TokenProvider = (*ChainProvider)(nil)

// Token walks the chain and returns the first token found. Encrypted tokens
// fail immediately with a re-authentication diagnostic.
func (p *ChainProvider) Token(ctx context.Context) (string, error) {
	token, _, err := p.resolve(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Source names the source the current token resolves from. An encrypted
// token still reports its source so diagnostics can point at the broken
// entry.
func (p *ChainProvider) Source(ctx context.Context) string {
	_, source, _ := p.resolve(ctx)
	return source
}

func (p *ChainProvider) resolve(ctx context.Context) (token, source string, err error) {
	for _, name := range tokenEnvVars {
		value := p.getenv(name)
		if value == "" {
			continue
		}
		if IsEncrypted(value) {
			return "", name, errEncryptedToken(name)
		}
		return value, name, nil
	}

	for _, dir := range p.credentialDirs() {
		found, path := p.readCredentials(dir)
		if found == "" {
			continue
		}
		if IsEncrypted(found) {
			return "", path, errEncryptedToken(path)
		}
		return found, path, nil
	}

	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	keychain := p.keychain()
	if found := keychain.Token(ctx); found != "" {
		if IsEncrypted(found) {
			return "", keychain.Name(), errEncryptedToken(keychain.Name())
		}
		return found, keychain.Name(), nil
	}
	return "", "", nil
}

// credentialDirs returns the directories probed for credential files: the
// configured directory or $CLAUDE_CONFIG_DIR when set, otherwise the
// tooling default ~/.claude.
func (p *ChainProvider) credentialDirs() []string {
	dir := p.ConfigDir
	if dir == "" {
		dir = p.getenv(EnvConfigDir)
	}
	if dir != "" {
		return []string{expandHome(dir)}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".claude")}
}

// readCredentials probes the credential files in dir. Unreadable and
// malformed files are skipped; only tokens in a recognized format count.
func (p *ChainProvider) readCredentials(dir string) (token, path string) {
	for _, name := range credentialsFiles {
		candidate := filepath.Join(dir, name)
		data, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		found := parseAccessToken(data)
		if found == "" {
			continue
		}
		if !strings.HasPrefix(found, TokenPrefix) && !IsEncrypted(found) {
			p.logger().Debug("skipping unrecognized token format", "path", candidate)
			continue
		}
		p.logger().Debug("found token in credentials file", "path", candidate)
		return found, candidate
	}
	return "", ""
}

func (p *ChainProvider) getenv(name string) string {
	if p.env != nil {
		return p.env(name)
	}
	return os.Getenv(name)
}

func (p *ChainProvider) keychain() Keychain {
	if p.Keychain != nil {
		return p.Keychain
	}
	return securityKeychain{}
}

func (p *ChainProvider) logger() *slog.Logger {
	return logging.WithComponent(p.Logger, "auth")
}

// credentialsDoc is the document shape external tooling writes to credential
// files and the keychain entry.
type credentialsDoc struct {
	ClaudeAIOauth *oauthSection `json:"claudeAiOauth"`
	OauthAccount  *oauthSection `json:"oauthAccount"`
}

type oauthSection struct {
	AccessToken string `json:"accessToken"`
}

// parseAccessToken extracts the access token from a credentials document,
// preferring the claudeAiOauth section. Malformed documents yield empty.
func parseAccessToken(data []byte) string {
	var doc credentialsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	if doc.ClaudeAIOauth != nil && doc.ClaudeAIOauth.AccessToken != "" {
		return doc.ClaudeAIOauth.AccessToken
	}
	if doc.OauthAccount != nil {
		return doc.OauthAccount.AccessToken
	}
	return ""
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// errEncryptedToken builds the rejection diagnostic for enc: tokens.
func errEncryptedToken(source string) *clierrors.CLIError {
	return clierrors.NewConfigError(
		fmt.Sprintf("authentication token from %s is in encrypted format and cannot be used", source),
		"Re-authenticate with: claude setup-token",
		"Or set "+EnvOAuthToken+" to a plaintext token",
	)
}

// RequireToken resolves a token through the provider or returns a
// prerequisite error with authentication instructions. Direct API keys are
// not a supported fallback.
func RequireToken(ctx context.Context, provider TokenProvider) (string, error) {
	token, err := provider.Token(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, ErrNoToken) {
		return "", err
	}
	return "", clierrors.NewPrerequisiteError(
		"no OAuth token found",
		"Run: claude",
		"Type: /login and complete the browser login",
		"Or set "+EnvOAuthToken+" in your environment",
	)
}

// SDKEnvVars are forwarded to spawned code-generation tooling when set.
var SDKEnvVars = []string{
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_AUTH_TOKEN",
	"ANTHROPIC_MODEL",
	"ANTHROPIC_DEFAULT_HAIKU_MODEL",
	"ANTHROPIC_DEFAULT_SONNET_MODEL",
	"ANTHROPIC_DEFAULT_OPUS_MODEL",
	"NO_PROXY",
	"DISABLE_TELEMETRY",
	"DISABLE_COST_WARNINGS",
	"API_TIMEOUT_MS",
	"CLAUDE_CODE_GIT_BASH_PATH",
	"CLAUDE_CLI_PATH",
	"CLAUDE_CONFIG_DIR",
}

// PassthroughEnv returns KEY=VALUE pairs for the SDK variables present in
// the current environment.
func PassthroughEnv() []string {
	var env []string
	for _, name := range SDKEnvVars {
		if value := os.Getenv(name); value != "" {
			env = append(env, name+"="+value)
		}
	}
	return env
}
