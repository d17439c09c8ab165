package scene

import (
	"fmt"

	"github.com/pkg/errors"
)

type LockKind uint8

const (
	// Free nodes can be selected.
	Free LockKind = iota
	// Held is the node that was selected.
	Held
	// Covered nodes are inside a held subtree.
	Covered
	// Blocked nodes have Count held descendants below them.
	Blocked
)

func (k LockKind) String() string {
	switch k {
	case Free:
		return "free"
	case Held:
		return "held"
	case Covered:
		return "covered"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("LockKind(%d)", uint8(k))
}

type LockState struct {
	Kind  LockKind
	Count int
}

func (s LockState) IsFree() bool { return s.Kind == Free }

// Value returns the signed counter encoding: 0 free, 1 held or covered,
// -n for n held descendant branches.
func (s LockState) Value() int {
	switch s.Kind {
	case Held, Covered:
		return 1
	case Blocked:
		return -s.Count
	}
	return 0
}

func (s LockState) String() string {
	if s.Kind == Blocked {
		return fmt.Sprintf("blocked(%d)", s.Count)
	}
	return s.Kind.String()
}

func invariant(s LockState, op string) error {
	return errors.Wrapf(ErrLockInvariant, "%s on %v", op, s)
}

func (s LockState) hold() (LockState, error) {
	if s.Kind != Free {
		return s, invariant(s, "hold")
	}
	return LockState{Kind: Held}, nil
}

func (s LockState) release() (LockState, error) {
	if s.Kind != Held {
		return s, invariant(s, "release")
	}
	return LockState{}, nil
}

func (s LockState) cover() (LockState, error) {
	if s.Kind != Free {
		return s, invariant(s, "cover")
	}
	return LockState{Kind: Covered}, nil
}

func (s LockState) uncover() (LockState, error) {
	if s.Kind != Covered {
		return s, invariant(s, "uncover")
	}
	return LockState{}, nil
}

func (s LockState) block() (LockState, error) {
	switch s.Kind {
	case Free:
		return LockState{Kind: Blocked, Count: 1}, nil
	case Blocked:
		return LockState{Kind: Blocked, Count: s.Count + 1}, nil
	}
	return s, invariant(s, "block")
}

func (s LockState) unblock() (LockState, error) {
	if s.Kind != Blocked || s.Count < 1 {
		return s, invariant(s, "unblock")
	}
	if s.Count == 1 {
		return LockState{}, nil
	}
	return LockState{Kind: Blocked, Count: s.Count - 1}, nil
}
