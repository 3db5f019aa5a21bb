package vault

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptFunc asks the operator for the master password.
type PromptFunc func() (string, error)

// Session owns the cached vault handle for one CLI invocation. The
// password is prompted at first use, the opened vault is cached for
// subsequent operations, and an auth failure clears the cache so the next
// attempt re-prompts. Dropping the session drops the key material.
type Session struct {
	path   string
	prompt PromptFunc
	vault  *Vault
}

// NewSession creates a Session over the vault file at path.
func NewSession(path string, prompt PromptFunc) *Session {
	return &Session{path: path, prompt: prompt}
}

// Vault returns the opened vault, prompting for the password on first use.
func (s *Session) Vault() (*Vault, error) {
	if s.vault != nil {
		return s.vault, nil
	}
	password, err := s.prompt()
	if err != nil {
		return nil, fmt.Errorf("read vault password: %w", err)
	}
	v, err := Open(s.path, password)
	if err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			s.vault = nil
		}
		return nil, err
	}
	s.vault = v
	return v, nil
}

// Close drops the cached vault handle.
func (s *Session) Close() {
	s.vault = nil
}

// TerminalPrompt reads a password from the controlling terminal without
// echoing it.
func TerminalPrompt(label string) PromptFunc {
	return func() (string, error) {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
}
