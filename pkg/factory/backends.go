package factory

import (
	"context"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/client"
	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/ftp"
	"digital.vasic.brocoli/pkg/local"
	"digital.vasic.brocoli/pkg/remote"
	"digital.vasic.brocoli/pkg/smb"
	"digital.vasic.brocoli/pkg/webdav"
)

var osFields = []Field{
	{Name: "replace_existing", Label: "Replace existing directories", Type: TypeBool, Default: "no", Validate: "omitempty,option_bool"},
}

var ftpFields = []Field{
	{Name: "host", Label: "FTP host", Type: TypeHost, Validate: "required,hostname|ip"},
	{Name: "port", Label: "FTP port", Type: TypeInt, Default: "21", Validate: "number"},
	{Name: "username", Label: "User name", Type: TypeText},
	{Name: "password", Label: "Password", Type: TypePassword},
	{Name: "path", Label: "Base path", Type: TypePath},
	{Name: "timeout", Label: "Dial timeout", Type: TypeText, Default: "30s"},
}

var smbFields = []Field{
	{Name: "host", Label: "SMB host", Type: TypeHost, Validate: "required,hostname|ip"},
	{Name: "port", Label: "SMB port", Type: TypeInt, Default: "445", Validate: "number"},
	{Name: "share", Label: "Share", Type: TypeText, Validate: "required"},
	{Name: "username", Label: "User name", Type: TypeText},
	{Name: "password", Label: "Password", Type: TypePassword},
	{Name: "domain", Label: "Domain", Type: TypeText, Default: "WORKGROUP"},
	{Name: "path", Label: "Base path", Type: TypePath},
}

var webdavFields = []Field{
	{Name: "url", Label: "Server URL", Type: TypeText, Validate: "required,url"},
	{Name: "username", Label: "User name", Type: TypeText},
	{Name: "password", Label: "Password", Type: TypePassword},
	{Name: "path", Label: "Base path", Type: TypePath},
	{Name: "retries", Label: "Request retries", Type: TypeInt, Default: "2", Validate: "number"},
}

var nfsFields = []Field{
	{Name: "host", Label: "NFS server", Type: TypeHost, Validate: "required,hostname|ip"},
	{Name: "path", Label: "Export path", Type: TypePath, Validate: "required,startswith=/"},
	{Name: "mount_point", Label: "Mount point", Type: TypePath, Validate: "required"},
	{Name: "options", Label: "Mount options", Type: TypeText, Default: "vers=3"},
}

func openOS(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := &local.Config{RootPath: conn.RootPath}
	if err := decode(settings, osFields, cfg); err != nil {
		return nil, err
	}
	return local.NewCatalog(cfg, opts.Logger.With().Str("connection", conn.Name).Logger()), nil
}

func openFTP(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	cfg := &ftp.Config{}
	if err := decode(settings, ftpFields, cfg); err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("connection", conn.Name).Logger()
	return openRemote(ctx, ftp.NewFTPClient(cfg, log), opts)
}

func openSMB(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	cfg := &smb.Config{}
	if err := decode(settings, smbFields, cfg); err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("connection", conn.Name).Logger()
	return openRemote(ctx, smb.NewSMBClient(cfg, log), opts)
}

func openWebDAV(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	cfg := &webdav.Config{}
	if err := decode(settings, webdavFields, cfg); err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("connection", conn.Name).Logger()
	c, err := webdav.NewWebDAVClient(cfg, log)
	if err != nil {
		return nil, catalog.NewError(catalog.KindLogic, "configure", conn.Name, err)
	}
	return openRemote(ctx, c, opts)
}

func openRemote(ctx context.Context, c client.Client, opts Options) (catalog.Catalog, error) {
	cat, err := remote.Open(ctx, c, remote.Options{Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	return cat, nil
}
