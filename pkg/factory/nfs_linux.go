//go:build linux

package factory

import (
	"context"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/nfs"
)

// openNFS mounts the export and browses it as a local catalog.
func openNFS(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	cfg := nfs.Config{}
	if err := decode(settings, nfsFields, &cfg); err != nil {
		return nil, err
	}
	c, err := nfs.Open(ctx, cfg, opts.Logger.With().Str("connection", conn.Name).Logger())
	if err != nil {
		return nil, err
	}
	return c, nil
}
