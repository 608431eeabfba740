//go:build !linux

package factory

import (
	"context"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/config"
)

// openNFS returns an error on non-Linux platforms.
func openNFS(_ context.Context, conn *config.Connection, _ map[string]string, _ Options) (catalog.Catalog, error) {
	return nil, catalog.Logicf("connect", conn.Name, "NFS protocol is only supported on Linux")
}
