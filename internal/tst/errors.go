package tst

import "errors"

var (
	// ErrUnresolved is returned when a handle does not refer to a live entity.
	ErrUnresolved = errors.New("tst: unresolved handle")
	// ErrTypeMismatch is returned when a written value cannot be coerced to
	// the column's type.
	ErrTypeMismatch = errors.New("tst: type mismatch")
	// ErrOutOfRange is returned when a value is outside the range the entity
	// accepts, such as an analog output limit or a device state not in its set.
	ErrOutOfRange = errors.New("tst: value out of range")
	// ErrNotPermitted is returned when a write would break a tree invariant,
	// such as enabling manual control on an online system.
	ErrNotPermitted = errors.New("tst: not permitted")
	// ErrReadOnly is returned for writes to derived or bridge-owned columns.
	ErrReadOnly = errors.New("tst: column is read-only")
	// ErrUnknownColumn is returned when the entity does not carry the column.
	ErrUnknownColumn = errors.New("tst: unknown column")
	// ErrInvalidParent is returned when adding an entity under a parent of the
	// wrong kind.
	ErrInvalidParent = errors.New("tst: invalid parent")
)
