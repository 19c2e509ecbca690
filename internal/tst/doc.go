/*
Package tst implements the tool state tree: the typed, hierarchical store that
behavior trees read from and write to, and that I/O bridges sample into and
stream out of.

# Structure

The tree is rooted at a single Tool. A Tool contains Systems and variables, a
System contains Devices and variables, and a Device contains I/O nodes and
variables:

	Tool
	├── System
	│   ├── Device
	│   │   ├── DigitalInput / DigitalOutput
	│   │   ├── AnalogInput / AnalogOutput
	│   │   └── Bool / Int / Float variable
	│   └── variables
	└── variables

Entities live in an arena and are addressed by Handle, a dense slot index
paired with a generation counter. Removing an entity bumps the generation of
its slot, so handles held by behavior trees go stale instead of silently
pointing at a different entity. Behavior trees keep names (paths) as the
durable reference and re-resolve them through Lookup whenever the topology
changes (see Tree.SyncAfterMutation).

# Columns

Every read and write is addressed by (Handle, Column). Reads are total: an
unresolved handle or a column the entity does not carry yields nil. Writes are
typed and return ErrTypeMismatch, ErrOutOfRange, ErrNotPermitted,
ErrReadOnly, ErrUnknownColumn or ErrUnresolved.

Writes of ColValue on output I/O nodes do not change the node in place: the
raw value is placed in the node's single-slot outbound queue, which the I/O
bridge drains with PopOutbound. The raw column (ColHalValue) is written only
by the bridge.

# Concurrency

A Tree is safe for concurrent use. All access is serialized by one RWMutex;
subscribers are notified with non-blocking channel sends after the write has
been committed.
*/
package tst
