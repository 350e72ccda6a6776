package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

// Request is one of AddRequest, ChangeRequest, DeleteRequest, GetRequest,
// GetChangesRequest, ScanRequest and ScanChangesRequest.
type Request interface {
	tableName() string
}

// Response is the result of Store.Execute; its concrete type matches the
// request (AddRequest gives *AddResponse and so on).
type Response interface {
	isResponse()
}

// Object is an object as read from a table.
type Object struct {
	Key          []byte
	FirstVersion hlc.Version
	LastVersion  hlc.Version
	SoftDeleted  bool
	Values       Values
}

// AddRequest creates objects. Each object's key is computed from its key
// properties, or is a random UUID when the table has none.
type AddRequest struct {
	Table   string
	Objects []Values
}

type AddResponse struct {
	Version hlc.Version
	Results []WriteResult
}

// ChangeRequest changes existing objects.
type ChangeRequest struct {
	Table   string
	Objects []ObjectChange
}

// ObjectChange applies Changes to one object, all or nothing. A non-zero
// LastVersion makes the change conditional on the object not having changed
// since.
type ObjectChange struct {
	Key         []byte
	LastVersion hlc.Version
	Changes     []Change
}

type ChangeResponse struct {
	Version hlc.Version
	Results []WriteResult
}

// DeleteRequest deletes objects. A soft delete only sets the object's soft
// delete flag.
type DeleteRequest struct {
	Table string
	Keys  [][]byte
	Soft  bool
}

type DeleteResponse struct {
	Version hlc.Version
	Results []WriteResult
}

// WriteResult is the outcome for one object of a write request. Changed is
// false when the write was a no-op; Err is set when the object was rejected.
type WriteResult struct {
	Key     []byte
	Changed bool
	Err     error
}

// GetRequest reads objects by key. ToVersion reads the state as of that
// version and needs a table that keeps history. Objects that fail Filter are
// reported as not found.
type GetRequest struct {
	Table             string
	Keys              [][]byte
	Filter            Filter
	ToVersion         hlc.Version
	FilterSoftDeleted bool
}

// GetResponse has one entry per requested key; Found is false for keys that
// don't exist.
type GetResponse struct {
	Objects []GetResult
}

type GetResult struct {
	Object
	Found bool
}

// GetChangesRequest lists the versions objects went through after
// FromVersion. MaxVersions above 1 and ToVersion need a table that keeps
// history; MaxVersions 0 means no limit.
type GetChangesRequest struct {
	Table       string
	Keys        [][]byte
	FromVersion hlc.Version
	ToVersion   hlc.Version
	MaxVersions int
}

type GetChangesResponse struct {
	Objects []ObjectChanges
}

// ScanRequest reads objects matching Filter in Order, at most Limit of them
// when Limit > 0. StartKey continues a previous scan after that object.
type ScanRequest struct {
	Table             string
	Filter            Filter
	Order             Orders
	Limit             int
	StartKey          []byte
	ToVersion         hlc.Version
	FilterSoftDeleted bool
}

type ScanResponse struct {
	Objects []Object
	Plan    ScanPlan
}

// ScanChangesRequest is a scan that returns the versions each matching
// object went through after FromVersion. Objects without such versions are
// skipped.
type ScanChangesRequest struct {
	ScanRequest
	FromVersion hlc.Version
	MaxVersions int
}

type ScanChangesResponse struct {
	Objects []ObjectChanges
	Plan    ScanPlan
}

func (r *AddRequest) tableName() string         { return r.Table }
func (r *ChangeRequest) tableName() string      { return r.Table }
func (r *DeleteRequest) tableName() string      { return r.Table }
func (r *GetRequest) tableName() string         { return r.Table }
func (r *GetChangesRequest) tableName() string  { return r.Table }
func (r *ScanRequest) tableName() string        { return r.Table }
func (r *ScanChangesRequest) tableName() string { return r.Table }

func (*AddResponse) isResponse()         {}
func (*ChangeResponse) isResponse()      {}
func (*DeleteResponse) isResponse()      {}
func (*GetResponse) isResponse()         {}
func (*GetChangesResponse) isResponse()  {}
func (*ScanResponse) isResponse()        {}
func (*ScanChangesResponse) isResponse() {}

// firstErr returns the first per-object error of a write response.
func firstErr(results []WriteResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
