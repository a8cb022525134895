package security

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PermConfigFile is for configuration files containing secrets.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermConfigFile os.FileMode = 0640

	// PermLogFile is for supervisor logs, which may include command output.
	PermLogFile os.FileMode = 0640

	// PermLogDir is for the directory holding the log file.
	PermLogDir os.FileMode = 0750
)

// OpenSecureLog opens path for appending, creating it and its parent
// directory with restrictive permissions when missing.
func OpenSecureLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), PermLogDir); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, PermLogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// OpenFile is subject to umask; an existing file keeps whatever it had.
	if err := os.Chmod(path, PermLogFile); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to set log file permissions: %w", err)
	}

	return file, nil
}

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions validates that a file does not have world-readable
// or world-writable permissions for sensitive files.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}

	return nil
}
