package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines filesystem tools to the user's home directory and
// blocks a short list of catastrophic shell commands. The blocklist is
// enforced in code — prompt rules alone are not a boundary.
type Sandbox struct {
	home        string
	deniedPaths []string
}

// blockedShell are substrings (matched lowercased) that reject a shell
// command outright.
var blockedShell = []string{
	"sudo ", "sudo\t", "doas ",
	"rm -rf /", "rm -rf /*",
	"dd if=", "mkfs", "> /dev/sd", "> /dev/nvme",
	"chmod 777 /", "chmod -R 777 /",
	"shutdown", "reboot", "init 0", "init 6",
	":(){ :|:& };:",
	"| bash", "|bash", "| sh ", "|sh ",
	"| zsh", "|zsh",
}

// NewSandbox builds a sandbox rooted at home. Writes under ~/.ssh,
// ~/.gnupg and ~/.config/autostart are always denied.
func NewSandbox(home string) *Sandbox {
	// Canonicalize so prefix checks work when home itself sits behind a
	// symlink (e.g. /var -> /private/var).
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}
	return &Sandbox{
		home: home,
		deniedPaths: []string{
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".gnupg"),
			filepath.Join(home, ".config", "autostart"),
		},
	}
}

// Home is the sandbox root.
func (s *Sandbox) Home() string {
	return s.home
}

// ResolvePath expands and resolves a path, then checks it falls under the
// home directory. Symlinks are followed so a link cannot escape; for a
// path that does not exist yet, the deepest existing ancestor is resolved
// instead. Write access additionally rejects the denied subtrees.
func (s *Sandbox) ResolvePath(path string, readOnly bool) (string, error) {
	if strings.HasPrefix(path, "~") {
		path = filepath.Join(s.home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.home, path)
	}

	resolved, err := resolveExisting(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if resolved != s.home && !strings.HasPrefix(resolved, s.home+string(os.PathSeparator)) {
		return "", fmt.Errorf("Access denied: path must be under %s", s.home)
	}
	if !readOnly {
		for _, denied := range s.deniedPaths {
			if resolved == denied || strings.HasPrefix(resolved, denied+string(os.PathSeparator)) {
				return "", fmt.Errorf("Access denied: cannot write to %s", denied)
			}
		}
	}
	return resolved, nil
}

// resolveExisting evaluates symlinks on the deepest ancestor that exists,
// then reattaches the not-yet-created tail.
func resolveExisting(path string) (string, error) {
	path = filepath.Clean(path)
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// CheckShell rejects commands containing blocked substrings. The match is
// case-insensitive so "SUDO rm" doesn't slip past.
func (s *Sandbox) CheckShell(command string) error {
	lower := strings.ToLower(command)
	for _, blocked := range blockedShell {
		if strings.Contains(lower, blocked) {
			return fmt.Errorf("Blocked for safety: command contains '%s'", strings.TrimSpace(blocked))
		}
	}
	return nil
}
