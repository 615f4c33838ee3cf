package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or a
// terminal prompt. The first result, success or failure, is cached.
type Source struct {
	envVar  string
	prompt  string
	confirm bool
	in      *os.File
	out     io.Writer

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithPrompt replaces the terminal prompt text.
func WithPrompt(prompt string) Option {
	return func(s *Source) { s.prompt = prompt }
}

// WithConfirmation asks for the passphrase twice when prompting. Used when a
// new keystore is written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: "Enter keystore passphrase: ",
		in:     os.Stdin,
		out:    os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Static returns a source that always yields value. Tests and scripted
// callers use it in place of the environment and terminal.
func Static(value string) *Source {
	s := &Source{}
	s.once.Do(func() {
		if strings.TrimSpace(value) == "" {
			s.err = errEmpty
			return
		}
		s.value = value
	})
	return s
}

var errEmpty = errors.New("keystore passphrase cannot be empty")

func (s *Source) read(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	bytes, err := term.ReadPassword(int(s.in.Fd()))
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}

// Get returns the cached passphrase or resolves it if this is the first call.
// When the environment variable is set the exact value is used; otherwise the
// operator is prompted on stderr. Whitespace-only passphrases are rejected to
// avoid unprotected keystores.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if s.in == nil || !term.IsTerminal(int(s.in.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}

		passphrase, err := s.read(s.prompt)
		if err != nil {
			s.err = err
			return
		}
		if strings.TrimSpace(passphrase) == "" {
			s.err = errEmpty
			return
		}
		if s.confirm {
			again, err := s.read("Repeat passphrase: ")
			if err != nil {
				s.err = err
				return
			}
			if again != passphrase {
				s.err = errors.New("passphrases do not match")
				return
			}
		}

		s.value = passphrase
	})

	return s.value, s.err
}
