// Package git discovers the Git repository around a directory. Guild uses
// it to anchor the project root when no explicit path is given.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Checker answers questions about the Git repository surrounding a directory.
type Checker struct{}

// NewChecker creates a new Git checker.
func NewChecker() *Checker {
	return &Checker{}
}

// IsRepository reports whether dir sits inside a Git work tree. A missing
// git binary is an error; a plain directory is not.
func (c *Checker) IsRepository(dir string) (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.Error); ok {
			return false, fmt.Errorf("git not found in PATH: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Root returns the absolute path of the repository root containing dir.
func (c *Checker) Root(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get Git root: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
