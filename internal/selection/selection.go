// Package selection models the shared selection and its propagation to views.
package selection

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind distinguishes the three selection states.
type Kind int

const (
	// KindUnselected means no filter is active: every entity is in scope.
	KindUnselected Kind = iota
	// KindSet is an explicit, non-empty set of entity ids.
	KindSet
	// KindEmpty is an active filter that matched nothing.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindUnselected:
		return "unselected"
	case KindSet:
		return "set"
	case KindEmpty:
		return "empty"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Selection is an immutable value. The zero value is Unselected.
type Selection struct {
	kind Kind
	ids  map[string]struct{}
}

// Unselected returns the "no filter" selection.
func Unselected() Selection { return Selection{kind: KindUnselected} }

// Empty returns an active selection of zero entities.
func Empty() Selection { return Selection{kind: KindEmpty} }

// Of returns a selection of the given ids. Duplicates collapse; no ids yields
// Empty.
func Of(ids ...string) Selection {
	if len(ids) == 0 {
		return Empty()
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Selection{kind: KindSet, ids: set}
}

// Kind reports the selection state.
func (s Selection) Kind() Kind { return s.kind }

// IsUnselected reports whether no filter is active.
func (s Selection) IsUnselected() bool { return s.kind == KindUnselected }

// Len returns the number of explicitly selected ids (0 for Unselected).
func (s Selection) Len() int { return len(s.ids) }

// Contains reports whether id is in scope. Every id is in scope when the
// selection is Unselected; none is when it is Empty.
func (s Selection) Contains(id string) bool {
	switch s.kind {
	case KindUnselected:
		return true
	case KindSet:
		_, ok := s.ids[id]
		return ok
	default:
		return false
	}
}

// IDs returns the selected ids sorted, or nil for Unselected and Empty.
func (s Selection) IDs() []string {
	if len(s.ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two selections have the same kind and members.
func (s Selection) Equal(o Selection) bool {
	if s.kind != o.kind || len(s.ids) != len(o.ids) {
		return false
	}
	for id := range s.ids {
		if _, ok := o.ids[id]; !ok {
			return false
		}
	}
	return true
}

func (s Selection) String() string {
	if s.kind == KindSet {
		return fmt.Sprintf("set%v", s.IDs())
	}
	return s.kind.String()
}

type wire struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

// MarshalJSON encodes the selection as {"kind": ..., "ids": [...]}.
func (s Selection) MarshalJSON() ([]byte, error) {
	ids := s.IDs()
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(wire{Kind: s.kind.String(), IDs: ids})
}

// UnmarshalJSON accepts the MarshalJSON form.
func (s *Selection) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "", "unselected":
		*s = Unselected()
	case "empty":
		*s = Empty()
	case "set":
		*s = Of(w.IDs...)
	default:
		return fmt.Errorf("unknown selection kind %q", w.Kind)
	}
	return nil
}
