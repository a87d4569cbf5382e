package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/filebase-dev/filebase/pkg/discovery"
	"github.com/filebase-dev/filebase/pkg/route"
	"github.com/filebase-dev/filebase/pkg/server"
)

func checkCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "check [root]",
		Short: "Validate a route tree and list its routes",
		Long: `Parse every route source under root and report the routes it declares.

Without --strict only the sources are checked, so no remote functions
need to be compiled in. With --strict every declaration must also be
registered in this binary, as the server requires at start.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(rootArg(args))
			if err != nil {
				return err
			}
			if err := checkRoot(cfg); err != nil {
				return err
			}
			logger, err := a.logger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			scanner := discovery.NewScanner(cfg.Root,
				discovery.WithSuffix(cfg.Suffix),
				discovery.WithIndexName(cfg.IndexName),
				discovery.WithContextParam(cfg.ContextParam),
				discovery.WithLogger(logger),
			)

			var routes []*route.Descriptor
			if strict {
				table, err := scanner.Build()
				if err != nil {
					return err
				}
				routes = table.Routes()
			} else {
				decls, err := scanner.Scan()
				if err != nil {
					return err
				}
				routes = make([]*route.Descriptor, len(decls))
				for i, d := range decls {
					routes[i] = &route.Descriptor{
						Path: d.Path, Name: d.Name, Source: d.Source(), Context: d.Context, Params: d.Params,
					}
				}
				sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(server.Describe(routes))
			}

			out := cmd.OutOrStdout()
			if len(routes) == 0 {
				fmt.Fprintf(out, "No routes under %s\n", scanner.Root())
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tFUNCTION\tSOURCE")
			for _, r := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path, r.Signature(), r.Source)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d routes OK\n", len(routes))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print routes as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "require every function to be registered")
	return cmd
}
