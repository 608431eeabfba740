package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"digital.vasic.brocoli/pkg/catalog"
	"digital.vasic.brocoli/pkg/grid"
)

// properties returns the file or directory properties of p.
func (s *session) properties(ctx context.Context, p string) (*catalog.Properties, error) {
	isDir, err := s.cat.IsDir(ctx, p)
	if err != nil {
		return nil, err
	}
	if isDir {
		return s.cat.DirectoryProperties(ctx, p)
	}
	return s.cat.FileProperties(ctx, p)
}

// group returns the named property group of p.
func (s *session) group(ctx context.Context, p, name string) (*catalog.Group, error) {
	props, err := s.properties(ctx, p)
	if err != nil {
		return nil, err
	}
	g := props.Group(name)
	if g == nil {
		return nil, catalog.Logicf("properties", p, "no %s properties", name)
	}
	return g, nil
}

func newPropsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "props PATH",
		Short: "Show the property groups of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				props, err := s.properties(cmd.Context(), s.resolve(args[0]))
				if err != nil {
					return err
				}
				for i, g := range props.Groups() {
					if i > 0 {
						fmt.Fprintln(app.Out)
					}
					if err := writeGroup(app, g); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func writeGroup(app *App, g *catalog.Group) error {
	fmt.Fprintf(app.Out, "[%s]\n", g.Name)
	tw := tabwriter.NewWriter(app.Out, 0, 4, 2, ' ', 0)
	titles := []string{"ID"}
	for _, c := range g.Columns {
		titles = append(titles, strings.ToUpper(c.Title))
	}
	fmt.Fprintln(tw, strings.Join(titles, "\t"))
	for _, r := range g.Records {
		row := []string{r.ID}
		for _, c := range g.Columns {
			row = append(row, r.Values[c.Key])
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func newMetaCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Edit metadata triples",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add PATH ATTRIBUTE VALUE [UNITS]",
		Short: "Attach a metadata triple",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				g, err := s.group(cmd.Context(), s.resolve(args[0]), grid.GroupMetadata)
				if err != nil {
					return err
				}
				values := map[string]string{"attribute": args[1], "value": args[2]}
				if len(args) == 4 {
					values["units"] = args[3]
				}
				return g.Add(cmd.Context(), values)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm PATH ID",
		Short: "Remove a metadata triple by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				g, err := s.group(cmd.Context(), s.resolve(args[0]), grid.GroupMetadata)
				if err != nil {
					return err
				}
				return g.Remove(cmd.Context(), args[1])
			})
		},
	})
	return cmd
}

func newACLCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acl",
		Short: "Edit access permissions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set PATH USER LEVEL",
		Short: "Grant USER read, write or own access; null revokes it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withSession(cmd.Context(), func(s *session) error {
				g, err := s.group(cmd.Context(), s.resolve(args[0]), grid.GroupPermissions)
				if err != nil {
					return err
				}
				user, level := args[1], args[2]
				if level == grid.LevelNull {
					return g.Remove(cmd.Context(), user)
				}
				if _, ok := g.Record(user); ok {
					return g.Edit(cmd.Context(), user, map[string]string{"level": level})
				}
				return g.Add(cmd.Context(), map[string]string{"user": user, "level": level})
			})
		},
	})
	return cmd
}
