package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/factory"
)

func newConnectionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "List the stored connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			def := cfg.DefaultConnectionName()
			for _, name := range cfg.ConnectionNames() {
				mark := " "
				if name == def {
					mark = "*"
				}
				kind, root := "?", ""
				if conn, err := cfg.Connection(name); err == nil {
					kind, root = conn.Type, conn.RootPath
				}
				fmt.Fprintf(tw, "%s %s\t%s\t%s\n", mark, name, kind, root)
			}
			return tw.Flush()
		},
	}
}

func newFieldsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "fields KIND",
		Short: "Show the connection settings of a catalog type",
		Long: `Show the settings a connection of catalog type KIND reads.

Types: ` + kindList() + `.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := factory.Default().Lookup(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tDEFAULT\tDESCRIPTION")
			for _, f := range b.Fields {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, f.Type, f.Default, f.Label)
			}
			return tw.Flush()
		},
	}
}

func kindList() string {
	kinds := factory.Default().Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func newConnectionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage stored connections",
	}
	cmd.AddCommand(newConnectionAddCmd(app))
	cmd.AddCommand(newConnectionRmCmd(app))
	cmd.AddCommand(newConnectionDefaultCmd(app))
	return cmd
}

func newConnectionAddCmd(app *App) *cobra.Command {
	var (
		kind       string
		root       string
		sets       []string
		setDefault bool
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create or replace a connection",
		Example: `  brocoli connection add nas --type ftp --root /pub --set host=nas.local --set username=alice --set password=secret
  brocoli connection add grid --type grid --set store_path=/srv/grid --set zone=tempZone --set user_name=alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := factory.Default().Lookup(kind)
			if err != nil {
				return err
			}
			settings, err := parseSettings(sets)
			if err != nil {
				return err
			}
			for k := range settings {
				if _, ok := b.Field(k); !ok {
					return fmt.Errorf("catalog type %s has no setting %s", kind, k)
				}
			}
			if err := b.Check(settings); err != nil {
				return err
			}

			conn := &config.Connection{
				Name:     args[0],
				Type:     kind,
				RootPath: root,
				Settings: b.Encode(settings, config.UID()),
			}
			err = config.Update(app.ConfigPath, func(cfg *config.Config) error {
				cfg.SetConnection(conn)
				if setDefault {
					return cfg.SetDefaultConnection(conn.Name)
				}
				return nil
			})
			if err != nil {
				return err
			}
			app.log.Info().Str("connection", conn.Name).Str("type", kind).Msg("connection saved")
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", "", "Catalog type ("+kindList()+")")
	cmd.Flags().StringVarP(&root, "root", "r", "", "Initial browsing path")
	cmd.Flags().StringArrayVarP(&sets, "set", "s", nil, "Setting as key=value, repeatable")
	cmd.Flags().BoolVar(&setDefault, "default", false, "Make it the default connection")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func parseSettings(sets []string) (map[string]string, error) {
	settings := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid setting %q, expected key=value", s)
		}
		settings[k] = v
	}
	return settings, nil
}

func newConnectionRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm NAME",
		Short: "Remove a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Update(app.ConfigPath, func(cfg *config.Config) error {
				return cfg.RemoveConnection(args[0])
			})
		},
	}
}

func newConnectionDefaultCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "default NAME",
		Short: "Select the default connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Update(app.ConfigPath, func(cfg *config.Config) error {
				return cfg.SetDefaultConnection(args[0])
			})
		},
	}
}
