// Package exec validates command lines before the shell tool runs them.
// Commands execute argv-style without a shell, so the checks here guard
// against injection through the executable name and smuggled shell
// syntax in arguments.
package exec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareName       = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	driveLetter    = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

var (
	ErrEmptyCommand    = errors.New("command is empty")
	ErrNullByte        = errors.New("contains null byte")
	ErrControlChar     = errors.New("contains control characters")
	ErrShellMetachar   = errors.New("contains shell metacharacters")
	ErrQuoteChar       = errors.New("contains quote characters")
	ErrOptionInjection = errors.New("executable starts with a dash")
	ErrInvalidName     = errors.New("invalid executable name")
)

// SanitizeExecutable validates the executable position of a command
// line and returns it trimmed. Paths (./tool, /usr/bin/go, ~/bin/x)
// are allowed; bare names must match [A-Za-z0-9._+-]+ and must not
// start with a dash.
func SanitizeExecutable(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyCommand
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", ErrNullByte
	}
	if controlChars.MatchString(trimmed) {
		return "", ErrControlChar
	}
	if shellMetachars.MatchString(trimmed) {
		return "", ErrShellMetachar
	}
	if quoteChars.MatchString(trimmed) {
		return "", ErrQuoteChar
	}
	if looksLikePath(trimmed) {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}
	if !bareName.MatchString(trimmed) {
		return "", ErrInvalidName
	}
	return trimmed, nil
}

// SanitizeArgs validates every argument after the executable. Arguments
// may start with dashes and contain quotes, but null bytes, control
// characters, and shell metacharacters are rejected; without a shell
// they have no meaning and only appear in injection attempts.
func SanitizeArgs(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return nil, &ArgError{Index: i, Err: ErrNullByte}
		}
		if controlChars.MatchString(arg) {
			return nil, &ArgError{Index: i, Err: ErrControlChar}
		}
		if shellMetachars.MatchString(arg) {
			return nil, &ArgError{Index: i, Err: ErrShellMetachar}
		}
		out[i] = arg
	}
	return out, nil
}

// SanitizeCommand validates a full argv and returns it cleaned.
func SanitizeCommand(argv []string) ([]string, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	executable, err := SanitizeExecutable(argv[0])
	if err != nil {
		return nil, fmt.Errorf("executable %q: %w", argv[0], err)
	}
	args, err := SanitizeArgs(argv[1:])
	if err != nil {
		return nil, err
	}
	return append([]string{executable}, args...), nil
}

// looksLikePath reports whether value is a path rather than a bare
// executable name.
func looksLikePath(value string) bool {
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, `/\`) {
		return true
	}
	return driveLetter.MatchString(value)
}

// ArgError reports which argument failed validation.
type ArgError struct {
	Index int
	Err   error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %d is unsafe: %v", e.Index, e.Err)
}

func (e *ArgError) Unwrap() error { return e.Err }
