package grid

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"

	"digital.vasic.brocoli/pkg/catalog"
)

// translate maps a failure raised below the catalog boundary onto the
// catalog taxonomy. An authentication failure closes the session.
func (c *Catalog) translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *catalog.Error
	if errors.As(err, &ce) {
		return err
	}

	switch CodeOf(err) {
	case CodeInvalidAuthentication:
		c.closeSession()
		return catalog.NewError(catalog.KindConnection, op, path, err)
	case CodeUnknownCollection, CodeNoSuchObject:
		return catalog.NewError(catalog.KindNotFound, op, path, err)
	case CodeChecksumMismatch:
		return catalog.NewError(catalog.KindChecksum, op, path, err)
	case CodeNetwork:
		return catalog.NewError(catalog.KindNetwork, op, path, err)
	case CodeAlreadyExists, CodeSQL, CodeNoPermission:
		return catalog.NewError(catalog.KindLogic, op, path, err)
	}

	var ne net.Error
	switch {
	case errors.As(err, &ne), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return catalog.NewError(catalog.KindNetwork, op, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return catalog.NewError(catalog.KindNotFound, op, path, err)
	default:
		return catalog.NewError(catalog.KindLogic, op, path, err)
	}
}
