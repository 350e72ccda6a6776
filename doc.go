/*
Package vdb implements an embeddable, versioned, in-memory object store with
live queries.

Objects live in tables. Each table has a model (a tree of typed properties),
a key computed from some of those properties, and any number of secondary
indices. Every write gets a version from a hybrid logical clock (package hlc),
so versions across all tables of a store are totally ordered.

# Records

An object is stored as a record: a sorted list of nodes, one per leaf of the
property tree, each addressed by a Ref. Records are immutable; a write clones
the record, applies its changes and swaps the new record in. Tables created
with KeepHistory keep every past value of every node, which allows reading
objects as of an earlier version (ToVersion) and listing the versions an
object went through (GetChanges, ScanChanges).

A soft delete only sets a flag that reads can filter on. A hard delete removes
the object; in a history table it leaves a tombstone so that past versions
remain readable.

# Refs

A Ref is a byte path into the property tree. A child's ref extends its
parent's, so a container and everything under it form one contiguous range
of a record's nodes. Deleting a container deletes that range.

# Scans

A scan is planned against the table's indices: the planner picks the index
whose columns cover the most of the filter's equality and range conditions
and whose order matches the requested order, falling back to a full table
scan. The chosen plan is returned with the results.

# Subscriptions

GetUpdates and ScanUpdates open live queries. The first event carries the
initial window; after that every committed write that affects the window
produces an addition, change or removal event. A bounded scan window is
refilled from the table when an object leaves it.

# Persistence

An optional Persistence receives a snapshot of every changed record after
the in-memory commit. BoltPersistence stores them in a bbolt file, checksummed
with xxhash and optionally compressed with zstd. Failed writes are reported
on Store.PersistErrors and never roll back the commit.
*/
package vdb
