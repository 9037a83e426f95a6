package feed

import "fmt"

// MutationKind names the field a mutation changes.
type MutationKind string

const (
	MutateStatus  MutationKind = "status"
	MutateRemarks MutationKind = "remarks"
	MutateRead    MutationKind = "read"
)

// Mutation is a local change applied optimistically before the server
// confirms it. ID doubles as the idempotency key of the update request.
type Mutation struct {
	ID         string       `json:"mutationId"`
	RowID      string       `json:"rowId"`
	Kind       MutationKind `json:"kind"`
	Status     Status       `json:"status,omitempty"`
	Remarks    string       `json:"adminRemarks,omitempty"`
	ReadStatus ReadStatus   `json:"readStatus,omitempty"`
}

// Validate checks the mutation is well formed.
func (m Mutation) Validate() error {
	if m.ID == "" || m.RowID == "" {
		return fmt.Errorf("%w: mutation requires id and row id", ErrInvalid)
	}
	switch m.Kind {
	case MutateStatus:
		if !m.Status.Valid() {
			return fmt.Errorf("%w: status %q", ErrInvalid, m.Status)
		}
	case MutateRemarks:
	case MutateRead:
		if m.ReadStatus != Viewed && m.ReadStatus != NotViewed {
			return fmt.Errorf("%w: read status %q", ErrInvalid, m.ReadStatus)
		}
	default:
		return fmt.Errorf("%w: mutation kind %q", ErrInvalid, m.Kind)
	}
	return nil
}

// Apply returns r with the mutation applied.
func (m Mutation) Apply(r Row) Row {
	out := r.Clone()
	switch m.Kind {
	case MutateStatus:
		out.Status = m.Status
	case MutateRemarks:
		out.AdminRemarks = m.Remarks
	case MutateRead:
		out.ReadStatus = m.ReadStatus
	}
	return out
}
