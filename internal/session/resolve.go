package session

import (
	"os"

	"github.com/commdesk/commsync/internal/config"
)

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// LoadConfig loads the session's effective configuration: the
// per-session file when present, the global file otherwise. Env
// overrides apply in either case.
func LoadConfig(name string) (*config.Config, error) {
	path := SessionConfigPath(name)
	if _, err := os.Stat(path); err != nil {
		path = ConfigPath()
	}
	return config.Load(path)
}
