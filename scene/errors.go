package scene

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when a name does not resolve to a live node.
	ErrNotFound = errors.New("node not found")

	// ErrLockConflict is returned when a node, one of its ancestors or one
	// of its descendants is already locked.
	ErrLockConflict = errors.New("node is locked")

	// ErrCycle is returned when a parent link would make a node its own
	// ancestor.
	ErrCycle = errors.New("hierarchy cycle")

	// ErrLocked is returned by structural edits (delete, reparent) on nodes
	// taking part in a lock.
	ErrLocked = errors.New("node takes part in a lock")

	ErrDuplicateName = errors.New("duplicate node name")
	ErrInvalidRecord = errors.New("invalid node record")

	// ErrLockInvariant means lock bookkeeping is inconsistent. The graph
	// refuses the transition instead of applying it partially.
	ErrLockInvariant = errors.New("lock state invariant violated")
)
