package catalog

import (
	"context"
	"errors"
)

var errReadOnly = errors.New("property group is read-only")

// Column describes one field of a property record.
type Column struct {
	Key      string
	Title    string
	Editable bool
}

// Record is one row of a property group. ID is stable for the lifetime of
// the underlying object and addresses the record for Edit and Remove.
type Record struct {
	ID     string
	Values map[string]string
}

// Group is a named, editable list of records such as replicas, permissions
// or metadata triples.
type Group struct {
	Name    string
	Columns []Column
	Records []Record

	AddFunc    func(ctx context.Context, values map[string]string) error
	RemoveFunc func(ctx context.Context, id string) error
	EditFunc   func(ctx context.Context, id string, values map[string]string) error
}

// Add creates a record from values.
func (g *Group) Add(ctx context.Context, values map[string]string) error {
	if g.AddFunc == nil {
		return NewError(KindLogic, "add", g.Name, errReadOnly)
	}
	return g.AddFunc(ctx, values)
}

// Remove deletes the record with the given id.
func (g *Group) Remove(ctx context.Context, id string) error {
	if g.RemoveFunc == nil {
		return NewError(KindLogic, "remove", g.Name, errReadOnly)
	}
	return g.RemoveFunc(ctx, id)
}

// Edit replaces the values of the record with the given id.
func (g *Group) Edit(ctx context.Context, id string, values map[string]string) error {
	if g.EditFunc == nil {
		return NewError(KindLogic, "edit", g.Name, errReadOnly)
	}
	return g.EditFunc(ctx, id, values)
}

// Record returns the record with the given id.
func (g *Group) Record(id string) (Record, bool) {
	for _, r := range g.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// Properties is an ordered set of property groups.
type Properties struct {
	groups []*Group
}

// NewProperties creates a property set from groups, keeping their order.
func NewProperties(groups ...*Group) *Properties {
	return &Properties{groups: groups}
}

// Groups returns the groups in order.
func (p *Properties) Groups() []*Group {
	return p.groups
}

// Names returns the group names in order.
func (p *Properties) Names() []string {
	names := make([]string, 0, len(p.groups))
	for _, g := range p.groups {
		names = append(names, g.Name)
	}
	return names
}

// Group returns the group called name, or nil.
func (p *Properties) Group(name string) *Group {
	for _, g := range p.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Len returns the number of groups.
func (p *Properties) Len() int {
	return len(p.groups)
}
