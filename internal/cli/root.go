// Package cli provides the brocoli command line.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"digital.vasic.brocoli/internal/logging"
	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/factory"
	"digital.vasic.brocoli/pkg/grid"
	"digital.vasic.brocoli/pkg/metrics"
)

// Version is set at build time.
var Version = "v0.1.0-dev"

// App holds the global flags and the streams of one invocation.
type App struct {
	ConfigPath  string
	Connection  string
	MetricsAddr string
	Verbosity   int
	NoProgress  bool

	In  io.Reader
	Out io.Writer
	Err io.Writer

	log     zerolog.Logger
	metrics *metrics.Metrics
	stdin   *bufio.Reader
}

// NewApp returns an App on the process streams.
func NewApp() *App {
	return &App{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// NewRootCmd creates the root command.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "brocoli",
		Short: "Browse and transfer files between local storage and remote catalogs",
		Long: `brocoli ` + Version + `
Browses a catalog (local filesystem, grid store, FTP, SMB, WebDAV or NFS)
and moves files and directory trees between it and the local disk.

Connections live in ~/.brocoli.ini, see "brocoli connection add".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "", "Configuration file path (default ~/.brocoli.ini)")
	rootCmd.PersistentFlags().StringVarP(&app.Connection, "connection", "C", "", "Connection name (default: the default connection)")
	rootCmd.PersistentFlags().StringVar(&app.MetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().CountVarP(&app.Verbosity, "verbose", "v", "Verbose output, repeat for more")
	rootCmd.PersistentFlags().BoolVar(&app.NoProgress, "no-progress", false, "Disable progress bars")
	rootCmd.Version = Version
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.SetIn(app.In)
	rootCmd.SetOut(app.Out)
	rootCmd.SetErr(app.Err)

	AddCommands(rootCmd, app)
	return rootCmd
}

// AddCommands registers the subcommands.
func AddCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newConnectionsCmd(app))
	rootCmd.AddCommand(newFieldsCmd(app))
	rootCmd.AddCommand(newConnectionCmd(app))
	rootCmd.AddCommand(newLsCmd(app))
	rootCmd.AddCommand(newStatCmd(app))
	rootCmd.AddCommand(newGetCmd(app))
	rootCmd.AddCommand(newPutCmd(app))
	rootCmd.AddCommand(newRmCmd(app))
	rootCmd.AddCommand(newMkdirCmd(app))
	rootCmd.AddCommand(newPropsCmd(app))
	rootCmd.AddCommand(newMetaCmd(app))
	rootCmd.AddCommand(newACLCmd(app))
	rootCmd.AddCommand(newGridCmd(app))
}

// Execute runs the command line with SIGINT and SIGTERM cancelling the
// running operation.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := NewApp()
	return NewRootCmd(app).ExecuteContext(ctx)
}

func (a *App) init(ctx context.Context) error {
	a.log = logging.New(a.Err).Level(logging.Level(a.Verbosity))
	if a.ConfigPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		a.ConfigPath = path
	}
	if a.MetricsAddr == "" {
		return nil
	}

	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	srv, err := metrics.Listen(a.MetricsAddr, reg, a.log)
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			a.log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.Load(a.ConfigPath)
}

// session is an open connection with its browsing root.
type session struct {
	conn *config.Connection
	cat  catalog.Catalog
	root string
}

// connect opens the selected connection. A nil session with a nil error
// means the user aborted the password prompt.
func (a *App) connect(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	conn, err := cfg.Connection(a.Connection)
	if err != nil {
		return nil, err
	}

	cat, err := factory.Connect(ctx, conn, factory.Options{
		Prompt: a.promptPassword,
		Logger: a.log,
	})
	if err != nil || cat == nil {
		return nil, err
	}

	root := conn.RootPath
	if gc, ok := cat.(*grid.Catalog); ok && root == "" {
		root = gc.HomePath()
	}
	return &session{conn: conn, cat: a.metrics.Wrap(cat), root: root}, nil
}

// withSession connects, runs fn and closes the catalog.
func (a *App) withSession(ctx context.Context, fn func(*session) error) error {
	s, err := a.connect(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintln(a.Err, "aborted")
		return nil
	}
	defer func() {
		if err := s.cat.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close catalog")
		}
	}()
	return fn(s)
}

// resolve makes a catalog path absolute against the connection root.
func (s *session) resolve(p string) string {
	if p == "" {
		p = "."
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) || s.root == "" {
		return s.cat.NormPath(p)
	}
	return s.cat.Join(s.root, p)
}

// promptPassword reads a password from the terminal without echo, or a
// line from the input stream. An empty answer aborts.
func (a *App) promptPassword(ctx context.Context, conn *config.Connection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(a.Err, "Password for %s: ", conn.Name)
	pw, err := a.readSecret()
	fmt.Fprintln(a.Err)
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", factory.ErrAborted
	}
	return pw, nil
}

func (a *App) readSecret() (string, error) {
	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	if a.stdin == nil {
		a.stdin = bufio.NewReader(a.In)
	}
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
