package client

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Environment variables read by ReadSecret.
const (
	TokenEnv    = "FANCTRL_TOKEN"
	PasswordEnv = "FANCTRL_PASSWORD"
)

// ErrNoTerminal is returned by ReadSecret when the secret must be prompted without a terminal.
var ErrNoTerminal = errors.New("no terminal available for prompt")

// ReadSecret returns the value of env, or prompts for it with echo disabled.
func ReadSecret(env, label string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s: %w (set %s)", label, ErrNoTerminal, env)
	}

	fmt.Fprintf(os.Stderr, "%s: ", label)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // newline after secret
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(string(secret)), nil
}
