package security

import (
	"fmt"
	"regexp"
	"strings"
)

var branchPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

// ValidateBranchName ensures a branch name is a plain git ref name.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}
