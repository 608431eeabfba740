package grid

import (
	"context"
	"strconv"

	"digital.vasic.brocoli/pkg/catalog"
)

// Property group names.
const (
	GroupReplicas    = "Replicas"
	GroupPermissions = "Permissions"
	GroupMetadata    = "Metadata"
)

var (
	replicaColumns = []catalog.Column{
		{Key: "number", Title: "Number"},
		{Key: "resource", Title: "Resource"},
		{Key: "status", Title: "Status"},
		{Key: "checksum", Title: "Checksum"},
		{Key: "path", Title: "Path"},
	}
	permissionColumns = []catalog.Column{
		{Key: "user", Title: "User"},
		{Key: "level", Title: "Access level", Editable: true},
	}
	metadataColumns = []catalog.Column{
		{Key: "attribute", Title: "Attribute"},
		{Key: "value", Title: "Value"},
		{Key: "units", Title: "Units"},
	}
)

// FileProperties returns the replicas, permissions and metadata of a data
// object.
func (c *Catalog) FileProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	const op = "properties"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	path = c.NormPath(path)

	replicas, err := c.session.Replicas(ctx, path)
	if err != nil {
		return nil, c.translate(op, path, err)
	}
	if len(replicas) == 0 {
		return nil, catalog.NewError(catalog.KindNotFound, op, path, NewError(CodeNoSuchObject, path))
	}

	perms, err := c.permissionGroup(ctx, path)
	if err != nil {
		return nil, err
	}
	meta, err := c.metadataGroup(ctx, path)
	if err != nil {
		return nil, err
	}
	return catalog.NewProperties(replicaGroup(replicas), perms, meta), nil
}

// DirectoryProperties returns the permissions and metadata of a collection.
func (c *Catalog) DirectoryProperties(ctx context.Context, path string) (*catalog.Properties, error) {
	const op = "properties"
	if err := c.check(op, path); err != nil {
		return nil, err
	}
	path = c.NormPath(path)

	if _, err := c.session.Collection(ctx, path); err != nil {
		return nil, c.translate(op, path, err)
	}
	perms, err := c.permissionGroup(ctx, path)
	if err != nil {
		return nil, err
	}
	meta, err := c.metadataGroup(ctx, path)
	if err != nil {
		return nil, err
	}
	return catalog.NewProperties(perms, meta), nil
}

func replicaGroup(replicas []Replica) *catalog.Group {
	g := &catalog.Group{Name: GroupReplicas, Columns: replicaColumns}
	for _, r := range replicas {
		num := strconv.Itoa(r.Number)
		g.Records = append(g.Records, catalog.Record{
			ID: num,
			Values: map[string]string{
				"number":   num,
				"resource": r.Resource,
				"status":   r.Status,
				"checksum": r.Checksum,
				"path":     r.Path,
			},
		})
	}
	return g
}

func (c *Catalog) permissionGroup(ctx context.Context, path string) (*catalog.Group, error) {
	perms, err := c.session.Permissions(ctx, path)
	if err != nil {
		return nil, c.translate("permissions", path, err)
	}

	g := &catalog.Group{Name: GroupPermissions, Columns: permissionColumns}
	for _, p := range perms {
		g.Records = append(g.Records, catalog.Record{
			ID:     p.User,
			Values: map[string]string{"user": p.User, "level": p.Level},
		})
	}

	set := func(ctx context.Context, user, level string) error {
		if user == "" {
			return catalog.Logicf("chmod", path, "user is required")
		}
		if level == "" {
			level = LevelRead
		}
		return c.translate("chmod", path, c.session.SetPermission(ctx, path, user, level))
	}
	g.AddFunc = func(ctx context.Context, values map[string]string) error {
		return set(ctx, values["user"], values["level"])
	}
	g.EditFunc = func(ctx context.Context, id string, values map[string]string) error {
		return set(ctx, id, values["level"])
	}
	g.RemoveFunc = func(ctx context.Context, id string) error {
		return set(ctx, id, LevelNull)
	}
	return g, nil
}

func (c *Catalog) metadataGroup(ctx context.Context, path string) (*catalog.Group, error) {
	avus, err := c.session.Metadata(ctx, path)
	if err != nil {
		return nil, c.translate("metadata", path, err)
	}

	g := &catalog.Group{Name: GroupMetadata, Columns: metadataColumns}
	for _, a := range avus {
		g.Records = append(g.Records, catalog.Record{
			ID: a.ID,
			Values: map[string]string{
				"attribute": a.Attribute,
				"value":     a.Value,
				"units":     a.Units,
			},
		})
	}

	g.AddFunc = func(ctx context.Context, values map[string]string) error {
		avu := AVU{Attribute: values["attribute"], Value: values["value"], Units: values["units"]}
		if avu.Attribute == "" {
			return catalog.Logicf("imeta", path, "attribute is required")
		}
		_, err := c.session.AddMetadata(ctx, path, avu)
		return c.translate("imeta", path, err)
	}
	g.RemoveFunc = func(ctx context.Context, id string) error {
		return c.translate("imeta", path, c.session.RemoveMetadata(ctx, path, id))
	}
	return g, nil
}
