package remote

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/client"
)

// translate maps transport failures onto the catalog taxonomy.
func translate(op, path string, err error) error {
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

	var ne net.Error
	switch {
	case errors.Is(err, client.ErrNotConnected):
		return catalog.NewError(catalog.KindConnection, op, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return catalog.NewError(catalog.KindNotFound, op, path, err)
	case errors.As(err, &ne), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return catalog.NewError(catalog.KindNetwork, op, path, err)
	default:
		return catalog.NewError(catalog.KindLogic, op, path, err)
	}
}
