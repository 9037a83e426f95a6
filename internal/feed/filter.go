package feed

import (
	"encoding/hex"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
)

// DateRange bounds the feed by submission date (inclusive, YYYY-MM-DD).
type DateRange struct {
	Start string `json:"start" toml:"start"`
	End   string `json:"end" toml:"end"`
}

// FilterSet is the full set of user-chosen constraints defining a feed scope.
type FilterSet struct {
	DateRange      DateRange `json:"dateRange"`
	ComplaintType  string    `json:"complaintType,omitempty"`
	Status         string    `json:"status,omitempty"`
	ReadStatus     string    `json:"readStatus,omitempty"`
	HostelNumber   string    `json:"hostelNumber,omitempty"`
	ScholarNumbers []string  `json:"scholarNumbers,omitempty"`
	ComplaintIDs   []string  `json:"complaintIds,omitempty"`
}

// Normalize trims every field and turns the two id lists into sorted sets.
// Nil and empty lists normalize identically.
func (f FilterSet) Normalize() FilterSet {
	return FilterSet{
		DateRange: DateRange{
			Start: strings.TrimSpace(f.DateRange.Start),
			End:   strings.TrimSpace(f.DateRange.End),
		},
		ComplaintType:  strings.TrimSpace(f.ComplaintType),
		Status:         strings.TrimSpace(f.Status),
		ReadStatus:     strings.TrimSpace(f.ReadStatus),
		HostelNumber:   strings.TrimSpace(f.HostelNumber),
		ScholarNumbers: normalizeSet(f.ScholarNumbers),
		ComplaintIDs:   normalizeSet(f.ComplaintIDs),
	}
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Equal reports whether two filter sets describe the same scope.
func (f FilterSet) Equal(o FilterSet) bool {
	return f.canonical() == o.canonical()
}

// IsZero reports whether no constraint is set.
func (f FilterSet) IsZero() bool {
	return f.Equal(FilterSet{})
}

// Hash returns a stable hex digest of the normalized filter set.
func (f FilterSet) Hash() string {
	sum := blake3.Sum256([]byte(f.canonical()))
	return hex.EncodeToString(sum[:16])
}

func (f FilterSet) canonical() string {
	n := f.Normalize()
	parts := []string{
		"start=" + n.DateRange.Start,
		"end=" + n.DateRange.End,
		"type=" + n.ComplaintType,
		"status=" + n.Status,
		"read=" + n.ReadStatus,
		"hostel=" + n.HostelNumber,
		"scholars=" + strings.Join(n.ScholarNumbers, ","),
		"ids=" + strings.Join(n.ComplaintIDs, ","),
	}
	return strings.Join(parts, "\x1f")
}

// ScopeKey identifies one cached feed scope.
type ScopeKey struct {
	Category   string
	Role       string
	FilterHash string
}

// NewScopeKey builds the key for category, role and filter.
func NewScopeKey(category, role string, f FilterSet) ScopeKey {
	return ScopeKey{Category: category, Role: role, FilterHash: f.Hash()}
}

// Prefix is the category/role part of the key shared by all filters.
func (k ScopeKey) Prefix() string {
	return k.Category + "/" + k.Role + "/"
}

func (k ScopeKey) String() string {
	return k.Prefix() + k.FilterHash
}
