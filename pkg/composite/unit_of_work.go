// Package composite commits a unit of work, a set of dependent record writes,
// as one composite graph call.
//
// Records registered in a unit of work can point at each other before any of
// them exists remotely: the ReferenceID returned by a Register call is used as
// a field value (or as the Id of an update or delete) of a later operation and
// is sent as a placeholder the server resolves while executing the graph.
//
//	b := composite.NewBuilder()
//	franchise := b.RegisterCreate(record.NewBuilder("Franchise__c").
//	    Set("Name", record.String("Star Wars")).Build())
//	b.RegisterCreate(record.NewBuilder("Movie__c").
//	    Set("Name", record.String("A New Hope")).
//	    Set("Franchise__c", record.Ref(franchise)).Build())
//	results, err := executor.Commit(ctx, b.Build())
package composite

import (
	"sync/atomic"

	"github.com/ajitpratap0/orbit/pkg/record"
	"github.com/ajitpratap0/orbit/pkg/restapi"
)

type entry struct {
	ref record.ReferenceID
	op  *restapi.Operation
	err error
}

// Builder accumulates operations for one unit of work. Register calls do no
// I/O and never fail; invalid operations are reported by Commit.
type Builder struct {
	minter  *record.ReferenceMinter
	entries []entry
	built   bool
}

// NewBuilder starts an empty unit of work.
func NewBuilder() *Builder {
	return &Builder{minter: record.NewReferenceMinter()}
}

// RegisterCreate registers creating rec.
func (b *Builder) RegisterCreate(rec record.Record) record.ReferenceID {
	return b.register(restapi.NewCreate(rec))
}

// RegisterUpdate registers updating the record addressed by rec's Id field.
func (b *Builder) RegisterUpdate(rec record.Record) record.ReferenceID {
	return b.register(restapi.NewUpdate(rec))
}

// RegisterDelete registers deleting the record addressed by rec's Id field.
func (b *Builder) RegisterDelete(rec record.Record) record.ReferenceID {
	return b.register(restapi.NewDelete(rec))
}

// RegisterDeleteByID registers deleting objectType record id.
func (b *Builder) RegisterDeleteByID(objectType, id string) record.ReferenceID {
	return b.register(restapi.NewDeleteByID(objectType, id))
}

// register returns the zero ReferenceID once Build has been called; every
// unit of work rejects it.
func (b *Builder) register(op *restapi.Operation, err error) record.ReferenceID {
	if b.built {
		return record.ReferenceID{}
	}
	ref := b.minter.Mint()
	b.entries = append(b.entries, entry{ref: ref, op: op, err: err})
	return ref
}

// Build returns the unit of work. The builder must not be used afterwards.
func (b *Builder) Build() *UnitOfWork {
	b.built = true
	return &UnitOfWork{minter: b.minter, entries: b.entries}
}

// UnitOfWork is an insertion-ordered set of pending operations keyed by
// ReferenceID. It is consumed by the first Commit.
type UnitOfWork struct {
	minter    *record.ReferenceMinter
	entries   []entry
	committed atomic.Bool
}

// Len returns the number of registered operations.
func (u *UnitOfWork) Len() int { return len(u.entries) }

// References returns the registered reference ids in registration order.
func (u *UnitOfWork) References() []record.ReferenceID {
	refs := make([]record.ReferenceID, len(u.entries))
	for i, e := range u.entries {
		refs[i] = e.ref
	}
	return refs
}

// Committed reports whether Commit has consumed the unit of work.
func (u *UnitOfWork) Committed() bool { return u.committed.Load() }
