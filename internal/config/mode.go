package config

import "fmt"

// Mode selects development or production behaviour.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// ParseMode accepts the HOTSWAP_ENV spellings. Empty means Development.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Development, "dev":
		return Development, nil
	case Production, "prod":
		return Production, nil
	default:
		return "", fmt.Errorf("unknown mode %q (must be %s or %s)", s, Development, Production)
	}
}

// IsProduction reports whether webhooks are served and builds run in
// production mode.
func (m Mode) IsProduction() bool {
	return m == Production
}

func (m Mode) String() string {
	return string(m)
}
