// Package dataset holds the merged per-entity records every view reads from.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// ErrDuplicateID is returned when two records share an entity id.
var ErrDuplicateID = errors.New("duplicate entity id")

// Entity is one geographic/statistical unit.
type Entity struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"name"`
	Fields      map[string]float64 `json:"fields"`
}

// Value returns the field value and whether it is present and finite.
// A zero value is valid data.
func (e Entity) Value(field string) (float64, bool) {
	v, ok := e.Fields[field]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Dataset is the read-only merged collection. It is built once per load and
// replaced wholesale on reload.
type Dataset struct {
	entities []Entity
	index    map[string]int
	geometry map[string]orb.Geometry
	fields   []string
}

// New builds a dataset from entities in the given order. geometry may be nil.
func New(entities []Entity, geometry map[string]orb.Geometry) (*Dataset, error) {
	ds := &Dataset{
		entities: make([]Entity, 0, len(entities)),
		index:    make(map[string]int, len(entities)),
		geometry: make(map[string]orb.Geometry, len(geometry)),
	}

	fieldSet := make(map[string]struct{})
	for _, e := range entities {
		if e.ID == "" {
			return nil, errors.New("entity with empty id")
		}
		if _, dup := ds.index[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		if e.Fields == nil {
			e.Fields = map[string]float64{}
		}
		for f := range e.Fields {
			fieldSet[f] = struct{}{}
		}
		ds.index[e.ID] = len(ds.entities)
		ds.entities = append(ds.entities, e)
	}
	for id, g := range geometry {
		if g == nil {
			continue
		}
		if _, ok := ds.index[id]; !ok {
			return nil, fmt.Errorf("geometry for unknown entity %q", id)
		}
		ds.geometry[id] = g
	}

	ds.fields = make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		ds.fields = append(ds.fields, f)
	}
	sort.Strings(ds.fields)
	return ds, nil
}

// Len returns the number of entities.
func (d *Dataset) Len() int { return len(d.entities) }

// Entities returns the entities in load order. Callers must not modify them.
func (d *Dataset) Entities() []Entity { return d.entities }

// Entity looks up an entity by id.
func (d *Dataset) Entity(id string) (Entity, bool) {
	i, ok := d.index[id]
	if !ok {
		return Entity{}, false
	}
	return d.entities[i], true
}

// Value returns the finite value of field for entity id.
func (d *Dataset) Value(id, field string) (float64, bool) {
	e, ok := d.Entity(id)
	if !ok {
		return 0, false
	}
	return e.Value(field)
}

// Geometry returns the entity's lon/lat geometry, if it has one.
func (d *Dataset) Geometry(id string) (orb.Geometry, bool) {
	g, ok := d.geometry[id]
	return g, ok
}

// WithGeometry returns the ids of entities that have geometry, in load order.
func (d *Dataset) WithGeometry() []string {
	ids := make([]string, 0, len(d.geometry))
	for _, e := range d.entities {
		if _, ok := d.geometry[e.ID]; ok {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Fields returns every field name seen on any entity, sorted.
func (d *Dataset) Fields() []string { return d.fields }

// HasField reports whether any entity carries the field.
func (d *Dataset) HasField(field string) bool {
	i := sort.SearchStrings(d.fields, field)
	return i < len(d.fields) && d.fields[i] == field
}

// Extent returns the min and max finite value of field. ok is false when no
// entity has a finite value.
func (d *Dataset) Extent(field string) (lo, hi float64, ok bool) {
	for _, e := range d.entities {
		v, has := e.Value(field)
		if !has {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}
