package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	natsadapter "github.com/codewandler/shardroute/adapters/nats"
	"github.com/codewandler/shardroute/core/app"
	"github.com/codewandler/shardroute/core/dispatch"
	"github.com/codewandler/shardroute/core/router"
	"github.com/codewandler/shardroute/core/topology"
)

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <collection>",
		Short: "Print the collection state used for routing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(a *app.App) error {
				col, err := a.Cache().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := topology.EncodeCollectionState(col)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), json.RawMessage(data))
			})
		},
	}
}

func (c *cli) updateCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "update <collection> <docs.json>",
		Short: "Send documents to the shards they route to",
		Long:  `Reads a JSON array of documents from a file, or from stdin when the file is "-".`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			var docs []router.Document
			if err := json.Unmarshal(raw, &docs); err != nil {
				return fmt.Errorf("decode documents: %w", err)
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req := dispatch.NewUpdate(args[0], docs...)
			req.Params = p
			return c.dispatch(cmd, req)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "request parameter as key=value")
	return cmd
}

func (c *cli) selectCmd() *cobra.Command {
	var (
		params []string
		routes []string
	)
	cmd := &cobra.Command{
		Use:   "select <collection>",
		Short: "Run a query against the collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req := dispatch.NewQuery(args[0], p)
			req.RouteKeys = routes
			return c.dispatch(cmd, req)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value")
	cmd.Flags().StringSliceVar(&routes, "route", nil, "route keys narrowing the shards queried")
	return cmd
}

func (c *cli) commitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <collection>",
		Short: "Commit pending updates on every shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.dispatch(cmd, dispatch.NewCommit(args[0]))
		},
	}
}

func (c *cli) coreCmd() *cobra.Command {
	coreCmd := &cobra.Command{
		Use:   "core",
		Short: "Core admin operations",
	}

	var params []string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a core on one of the known nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			if p.Get("name") == "" {
				return errors.New("core create: -p name=<core> is required")
			}
			return c.withApp(cmd, func(a *app.App) error {
				out, err := a.Admin().CreateCore(cmd.Context(), p)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), json.RawMessage(out))
			})
		},
	}
	createCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "create parameter as key=value")

	var indexInfo bool
	statusCmd := &cobra.Command{
		Use:   "status [core]",
		Short: "Show the status of one or all cores",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return c.withApp(cmd, func(a *app.App) error {
				out, err := a.Admin().CoreStatus(cmd.Context(), name, indexInfo)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), json.RawMessage(out))
			})
		},
	}
	statusCmd.Flags().BoolVar(&indexInfo, "index-info", true, "include index details")

	coreCmd.AddCommand(createCmd, statusCmd)
	return coreCmd
}

func (c *cli) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <collection> <state.json>",
		Short: "Write a collection state document into the ensemble",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			col, err := topology.DecodeCollectionState(args[0], raw, nil)
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(a *app.App) error {
				p, ok := a.Provider().(*natsadapter.Provider)
				if !ok {
					return errors.New("publish requires an ensemble source")
				}
				rev, err := topology.PublishCollection(cmd.Context(), p.Store(), c.config.Topology.Chroot, col)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %s at revision %d\n", col.Name, rev)
				return err
			})
		},
	}
}

func (c *cli) dispatch(cmd *cobra.Command, req *dispatch.Request) error {
	return c.withApp(cmd, func(a *app.App) error {
		res, err := a.Dispatch(cmd.Context(), req)
		var re *dispatch.RouteError
		if errors.As(err, &re) {
			for _, f := range re.Failures {
				c.log.Error("sub-request failed", slog.String("failure", f.String()))
			}
		}
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res.Merged)
	})
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func parseParams(kvs []string) (url.Values, error) {
	out := url.Values{}
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		out.Add(k, v)
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
