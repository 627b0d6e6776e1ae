package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from a file, an environment variable
// or an interactive prompt, in that order. The first successful value is
// cached.
type Source struct {
	envVar string
	file   string
	prompt string

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that reads envVar and falls back to prompting on
// the terminal.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: "Keystore passphrase: "}
}

// WithFile makes the source read the passphrase from path before consulting
// the environment. Trailing newlines are stripped.
func (s *Source) WithFile(path string) *Source {
	s.file = strings.TrimSpace(path)
	return s
}

// Get returns the passphrase. Blank passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
		if s.err == nil && strings.TrimSpace(s.value) == "" {
			s.value, s.err = "", errors.New("keystore passphrase cannot be empty")
		}
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.file != "" {
		data, err := os.ReadFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or use --passphrase-file", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	fmt.Fprint(os.Stderr, s.prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
