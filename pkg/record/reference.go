package record

import (
	"strconv"
	"sync/atomic"
)

var referenceOwners atomic.Uint64

// ReferenceID is a local placeholder identity for a record that does not exist
// remotely yet. It is only meaningful inside the unit of work that minted it;
// afterwards it serves as the caller's lookup key into the commit results.
type ReferenceID struct {
	owner uint64
	seq   int
}

// ReferenceMinter hands out sequential reference ids for one unit of work.
// It is not safe for concurrent use.
type ReferenceMinter struct {
	owner uint64
	next  int
}

// NewReferenceMinter returns a minter with a process-unique owner.
func NewReferenceMinter() *ReferenceMinter {
	return &ReferenceMinter{owner: referenceOwners.Add(1)}
}

// Mint returns the next reference id.
func (m *ReferenceMinter) Mint() ReferenceID {
	id := ReferenceID{owner: m.owner, seq: m.next}
	m.next++
	return id
}

// Owns reports whether id was minted by m.
func (m *ReferenceMinter) Owns(id ReferenceID) bool {
	return id.owner != 0 && id.owner == m.owner && id.seq < m.next
}

// IsZero reports whether id was never minted.
func (id ReferenceID) IsZero() bool { return id.owner == 0 }

// Seq returns the registration position within the owning unit of work.
func (id ReferenceID) Seq() int { return id.seq }

// String returns the wire reference id, e.g. "ref3".
func (id ReferenceID) String() string {
	return "ref" + strconv.Itoa(id.seq)
}

// Placeholder returns the token the server substitutes with the referenced
// record's id, e.g. "@{ref3.id}".
func (id ReferenceID) Placeholder() string {
	return "@{" + id.String() + ".id}"
}
