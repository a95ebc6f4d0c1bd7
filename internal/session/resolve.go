package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/ims/internal/config"
)

const DefaultSessionName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
// The result is validated.
func Resolve(flagOverride string) (string, error) {
	name := flagOverride
	if name == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			name = cfg.DefaultSession
		}
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
