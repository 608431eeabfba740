package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/config"
	"digital.vasic.brocoli/pkg/factory"
	"digital.vasic.brocoli/pkg/gridstore"
)

func newGridCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Administer the grid store of a grid connection",
	}
	cmd.AddCommand(newGridInitCmd(app))
	cmd.AddCommand(newGridUsersCmd(app))
	return cmd
}

// openStore opens the store of the selected grid connection.
func (a *App) openStore(ctx context.Context) (*config.Connection, *gridstore.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := cfg.Connection(a.Connection)
	if err != nil {
		return nil, nil, err
	}
	b, err := factory.Default().Lookup(conn.Type)
	if err != nil {
		return nil, nil, err
	}
	if b.Kind != catalog.KindGrid {
		return nil, nil, fmt.Errorf("connection %s is not a grid connection", conn.Name)
	}
	storeConfig, err := factory.GridStoreConfig(conn, config.UID())
	if err != nil {
		return nil, nil, err
	}
	s, err := gridstore.Open(ctx, storeConfig, a.log)
	if err != nil {
		return nil, nil, err
	}
	return conn, s, nil
}

func newGridInitCmd(app *App) *cobra.Command {
	var admin, remember bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the store and register the connection user",
		Long: `Create the grid store of the selected connection if needed and register
its user_name with a password read from the terminal. With --remember the
password is stored, obfuscated, in the connection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, s, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			user := conn.Settings["user_name"]
			pw, err := app.promptPassword(ctx, conn)
			if err != nil {
				return err
			}
			if err := s.AddUser(ctx, user, pw, admin); err != nil {
				return fmt.Errorf("failed to add user %s: %w", user, err)
			}
			fmt.Fprintf(app.Out, "zone %s: user %s, home %s\n", s.Zone(), user, s.HomePath(user))

			if !remember {
				return nil
			}
			return config.Update(app.ConfigPath, func(cfg *config.Config) error {
				stored, err := cfg.Connection(conn.Name)
				if err != nil {
					return err
				}
				stored.Settings["store_password"] = "yes"
				stored.Settings["password"] = config.Obfuscate(pw, config.UID())
				cfg.SetConnection(stored)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Register the user as administrator")
	cmd.Flags().BoolVar(&remember, "remember", false, "Store the password in the connection")
	return cmd
}

func newGridUsersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the users of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := app.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			users, err := s.Users(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintln(app.Out, u)
			}
			return nil
		},
	}
}
