package feed

import (
	"encoding/json"
	"time"
)

// Status is the workflow state of a complaint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// ReadStatus records whether an administrator has opened a complaint.
type ReadStatus string

const (
	Viewed    ReadStatus = "viewed"
	NotViewed ReadStatus = "not-viewed"
)

// Cursor is the opaque server-issued pagination token (last seen row id).
// The empty cursor means "start of feed".
type Cursor string

// Row is one complaint record as exposed to the feed.
type Row struct {
	ID               string            `json:"id"`
	Category         string            `json:"category"`
	Status           Status            `json:"status"`
	ReadStatus       ReadStatus        `json:"readStatus"`
	SubmittedAt      time.Time         `json:"submittedAt"`
	ResolvedAt       *time.Time        `json:"resolvedAt,omitempty"`
	Attachments      []string          `json:"attachments,omitempty"`
	AdminAttachments []string          `json:"adminAttachments,omitempty"`
	AdminRemarks     string            `json:"adminRemarks,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
}

// HasAttachments reports whether the row carries any gallery images.
func (r Row) HasAttachments() bool {
	return len(r.Attachments) > 0 || len(r.AdminAttachments) > 0
}

// IsRead reports whether the row has been viewed.
func (r Row) IsRead() bool {
	return r.ReadStatus == Viewed
}

// Clone returns a deep copy so callers can't alias the owner's slices.
func (r Row) Clone() Row {
	c := r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	if r.Attachments != nil {
		c.Attachments = append([]string(nil), r.Attachments...)
	}
	if r.AdminAttachments != nil {
		c.AdminAttachments = append([]string(nil), r.AdminAttachments...)
	}
	if r.Fields != nil {
		c.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// Page is one response of the paged fetch endpoint.
type Page struct {
	Rows       []Row  `json:"rows"`
	NextCursor Cursor `json:"nextCursor"`
}

// PageRequest describes a paged fetch.
type PageRequest struct {
	Category string
	Filter   FilterSet
	PageSize int
	Cursor   Cursor
}

// CacheEntry is the persisted snapshot of one feed scope.
type CacheEntry struct {
	FilterHash string    `json:"filterHash"`
	Rows       []Row     `json:"rows"`
	Cursor     Cursor    `json:"cursor"`
	CapturedAt time.Time `json:"capturedAt"`
}

// RowDelta is a push-delivered change to a single known row.
type RowDelta struct {
	RowID        string      `json:"id"`
	Status       *Status     `json:"status,omitempty"`
	ReadStatus   *ReadStatus `json:"readStatus,omitempty"`
	AdminRemarks *string     `json:"adminRemarks,omitempty"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty"`
	Deleted      bool        `json:"deleted,omitempty"`
}

// Apply returns r with the delta's fields applied.
func (d RowDelta) Apply(r Row) Row {
	out := r.Clone()
	if d.Status != nil {
		out.Status = *d.Status
	}
	if d.ReadStatus != nil {
		out.ReadStatus = *d.ReadStatus
	}
	if d.AdminRemarks != nil {
		out.AdminRemarks = *d.AdminRemarks
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Stats is the latest statistics snapshot received for a topic.
type Stats struct {
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"receivedAt"`
}
