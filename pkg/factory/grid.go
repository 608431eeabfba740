package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/checksum"
	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/grid"
	"digital.vasic.brocoli/pkg/gridstore"
)

// DefaultEnvFile is the iRODS v3 environment file read when use_irods_env
// is set without env_file.
const DefaultEnvFile = "~/.irods/.irodsEnv"

var gridFields = []Field{
	{Name: "use_irods_env", Label: "Use iRODS environment file", Type: TypeBool, Default: "no", Validate: "omitempty,option_bool"},
	{Name: "env_file", Label: "Environment file", Type: TypePath},
	{Name: "host", Label: "Grid host", Type: TypeHost, Default: "localhost", Validate: "omitempty,hostname|ip"},
	{Name: "port", Label: "Grid port", Type: TypeInt, Default: "1247", Validate: "number"},
	{Name: "store_path", Label: "Grid store directory", Type: TypePath, Validate: "required"},
	{Name: "zone", Label: "Zone", Type: TypeText},
	{Name: "user_name", Label: "User name", Type: TypeText},
	{Name: "store_password", Label: "Remember password", Type: TypeBool, Default: "no", Validate: "omitempty,option_bool"},
	{Name: "password", Label: "Password", Type: TypePassword},
	{Name: "checksum", Label: "Checksum algorithm", Type: TypeText, Default: "md5", Validate: "omitempty,oneof=md5 sha256 sha2"},
	{Name: "local_checksum", Label: "Verify local checksums", Type: TypeBool, Default: "no", Validate: "omitempty,option_bool"},
	{Name: "resource_path", Label: "Vault directory", Type: TypePath},
	{Name: "s3_bucket", Label: "S3 bucket", Type: TypeText},
	{Name: "s3_region", Label: "S3 region", Type: TypeText},
	{Name: "s3_endpoint", Label: "S3 endpoint", Type: TypeText, Validate: "omitempty,url"},
	{Name: "s3_access_key_id", Label: "S3 access key", Type: TypeText},
	{Name: "s3_secret_access_key", Label: "S3 secret key", Type: TypePassword},
	{Name: "s3_prefix", Label: "S3 key prefix", Type: TypeText},
	{Name: "azure_container", Label: "Azure container", Type: TypeText},
	{Name: "azure_connection_string", Label: "Azure connection string", Type: TypePassword},
	{Name: "azure_sas_url", Label: "Azure SAS URL", Type: TypePassword},
}

type gridSettings struct {
	UseEnvFile    bool   `mapstructure:"use_irods_env"`
	EnvFile       string `mapstructure:"env_file"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port" validate:"min=1,max=65535"`
	StorePath     string `mapstructure:"store_path" validate:"required"`
	Zone          string `mapstructure:"zone"`
	UserName      string `mapstructure:"user_name"`
	StorePassword bool   `mapstructure:"store_password"`
	Password      string `mapstructure:"password"`
	Checksum      string `mapstructure:"checksum"`
	LocalChecksum bool   `mapstructure:"local_checksum"`
	ResourcePath  string `mapstructure:"resource_path"`

	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	S3Prefix          string `mapstructure:"s3_prefix"`

	AzureContainer        string `mapstructure:"azure_container"`
	AzureConnectionString string `mapstructure:"azure_connection_string"`
	AzureSASURL           string `mapstructure:"azure_sas_url"`

	// authFile comes from irodsAuthFileName in env file mode.
	authFile string
}

// GridStoreConfig returns the store layout of a grid connection:
// catalog/ and vault/ below store_path, plus optional S3 and Azure
// resources every object is replicated to.
func GridStoreConfig(conn *config.Connection, uid int) (gridstore.Config, error) {
	b, err := Default().Lookup(string(catalog.KindGrid))
	if err != nil {
		return gridstore.Config{}, err
	}
	settings, err := b.reveal(conn.Settings, uid)
	if err != nil {
		return gridstore.Config{}, err
	}
	_, cfg, err := gridConfig(settings)
	return cfg, err
}

func gridConfig(settings map[string]string) (*gridSettings, gridstore.Config, error) {
	gs := &gridSettings{}
	if err := decode(settings, gridFields, gs); err != nil {
		return nil, gridstore.Config{}, err
	}
	if gs.UseEnvFile {
		if err := gs.loadEnv(); err != nil {
			return nil, gridstore.Config{}, err
		}
	}
	if !loopback(gs.Host) {
		return nil, gridstore.Config{}, catalog.NewError(catalog.KindConnection, "connect", fmt.Sprintf("%s:%d", gs.Host, gs.Port),
			errors.New("only the embedded grid store is served, use a loopback host"))
	}
	if gs.Zone == "" {
		return nil, gridstore.Config{}, catalog.Logicf("configure", "", "zone is required")
	}
	if gs.UserName == "" {
		return nil, gridstore.Config{}, catalog.Logicf("configure", "", "user_name is required")
	}
	alg, err := checksum.Parse(gs.Checksum, checksum.MD5)
	if err != nil {
		return nil, gridstore.Config{}, catalog.NewError(catalog.KindLogic, "configure", "", err)
	}

	vault := gs.ResourcePath
	if vault == "" {
		vault = filepath.Join(gs.StorePath, "vault")
	}
	cfg := gridstore.Config{
		Dir:             filepath.Join(gs.StorePath, "catalog"),
		Zone:            gs.Zone,
		DefaultChecksum: alg,
		Resources:       []gridstore.ResourceConfig{{Name: "vault", Type: "fs", Path: vault}},
	}
	if gs.S3Bucket != "" {
		cfg.Resources = append(cfg.Resources, gridstore.ResourceConfig{
			Name:            "s3",
			Type:            "s3",
			Bucket:          gs.S3Bucket,
			Region:          gs.S3Region,
			Endpoint:        gs.S3Endpoint,
			AccessKeyID:     gs.S3AccessKeyID,
			SecretAccessKey: gs.S3SecretAccessKey,
			Prefix:          gs.S3Prefix,
		})
	}
	if gs.AzureContainer != "" {
		cfg.Resources = append(cfg.Resources, gridstore.ResourceConfig{
			Name:             "azure",
			Type:             "azure",
			Container:        gs.AzureContainer,
			ConnectionString: gs.AzureConnectionString,
			SASURL:           gs.AzureSASURL,
		})
	}
	return gs, cfg, nil
}

// loopback reports whether host names this machine.
func loopback(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// loadEnv takes host, port, user and zone from an iRODS v3 environment
// file.
func (gs *gridSettings) loadEnv() error {
	path := gs.EnvFile
	if path == "" {
		path = DefaultEnvFile
	}
	path, err := expandHome(path)
	if err != nil {
		return err
	}
	env, err := config.ParseEnv3(path)
	if err != nil {
		return catalog.NewError(catalog.KindLogic, "configure", path, err)
	}
	for _, key := range []string{"irodsUserName", "irodsZone"} {
		if env[key] == "" {
			return catalog.Logicf("configure", path, "environment file has no %s", key)
		}
	}
	gs.UserName = env["irodsUserName"]
	gs.Zone = env["irodsZone"]
	if host := env["irodsHost"]; host != "" {
		gs.Host = host
	}
	if port := env["irodsPort"]; port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return catalog.Logicf("configure", path, "invalid irodsPort %q", port)
		}
		gs.Port = n
	}
	if auth := env["irodsAuthFileName"]; auth != "" {
		if gs.authFile, err = expandHome(auth); err != nil {
			return err
		}
	}
	return nil
}

// password resolves the login password: the auth file in env file mode,
// the stored password, or the prompt.
func (gs *gridSettings) password(ctx context.Context, conn *config.Connection, opts Options) (string, error) {
	switch {
	case gs.authFile != "":
		data, err := os.ReadFile(gs.authFile)
		if err != nil {
			return "", fmt.Errorf("failed to read auth file %s: %w", gs.authFile, err)
		}
		pw := strings.TrimSpace(string(data))
		if config.IsObfuscated(pw) {
			return config.Deobfuscate(pw, opts.uid())
		}
		return pw, nil
	case gs.StorePassword:
		return gs.Password, nil
	case opts.Prompt == nil:
		return "", catalog.Logicf("connect", conn.Name, "password is not stored and no prompt is available")
	default:
		return opts.Prompt(ctx, conn)
	}
}

func openGrid(ctx context.Context, conn *config.Connection, settings map[string]string, opts Options) (catalog.Catalog, error) {
	gs, cfg, err := gridConfig(settings)
	if err != nil {
		return nil, err
	}
	pw, err := gs.password(ctx, conn, opts)
	if err != nil {
		return nil, err
	}

	log := opts.Logger.With().Str("connection", conn.Name).Logger()
	sess, err := gridstore.OpenSession(ctx, cfg, gs.UserName, pw, log)
	if err != nil {
		if grid.CodeOf(err) == grid.CodeInvalidAuthentication {
			return nil, catalog.NewError(catalog.KindConnection, "login", gs.UserName, err)
		}
		return nil, err
	}
	return grid.New(sess, grid.Options{
		LocalChecksum: gs.LocalChecksum,
		Algorithm:     cfg.DefaultChecksum,
		Logger:        log,
	}), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
