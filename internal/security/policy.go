package security

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultAllowedCommands is the set of programs an admin command may start
// when no allow-list is configured.
var DefaultAllowedCommands = []string{
	"git", "npm", "npx", "yarn", "pnpm", "node",
	"composer", "php", "python", "python3", "pip", "pip3",
	"bundle", "rake", "make", "cargo", "go",
}

// shellMetachars are rejected in admin command arguments. Commands run
// without a shell, so these would only ever reach the program literally.
const shellMetachars = ";|&$`\n><(){}*?[]\\'\""

// CommandPolicy validates admin commands before they are handed to the
// process runner.
type CommandPolicy struct {
	allowed map[string]bool

	// AllowShellMetachars allows shell metacharacters in arguments.
	AllowShellMetachars bool
}

// NewCommandPolicy creates a policy for the given program names. An empty
// list selects DefaultAllowedCommands.
func NewCommandPolicy(allowed []string) *CommandPolicy {
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}

	p := &CommandPolicy{allowed: make(map[string]bool, len(allowed))}
	for _, cmd := range allowed {
		p.allowed[cmd] = true
	}
	return p
}

// Validate checks the program against the allow-list and, unless permitted,
// rejects arguments containing shell metacharacters.
func (p *CommandPolicy) Validate(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	// A path such as /usr/bin/git is never allowed; only bare names resolve via PATH.
	baseCmd := cmdParts[0]
	if filepath.Base(baseCmd) != baseCmd || !p.allowed[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			baseCmd, strings.Join(p.Allowed(), ", "))
	}

	if !p.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if strings.ContainsAny(arg, shellMetachars) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// Allowed returns the sorted allow-list.
func (p *CommandPolicy) Allowed() []string {
	commands := make([]string, 0, len(p.allowed))
	for cmd := range p.allowed {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
