package common

import "errors"

var ErrReentrant = errors.New("reentrant call")

// Lock is an in-progress flag held for the duration of a state-mutating entry
// point. Nested entry while the flag is set fails with ErrReentrant.
type Lock struct {
	held bool
}

// Enter acquires the flag and returns the function that releases it.
func (l *Lock) Enter() (func(), error) {
	if l.held {
		return nil, ErrReentrant
	}
	l.held = true
	return func() { l.held = false }, nil
}

// Held reports whether an operation is currently in progress.
func (l *Lock) Held() bool { return l.held }
