package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/plotweave/internal"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/storage"
)

// exitExtractionFailed is returned by rebuild when some files failed.
const exitExtractionFailed = 2

// withApp opens the project and hands the app to fn. One-shot commands log
// to stderr in console format unless --log-format says otherwise.
func withApp(ctx context.Context, cmd *cli.Command, fn func(*internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.String("log-format") == "" {
		cfg.App.LogFormat = internal.LogFormatConsole
	}
	logger := internal.NewLogger(cfg.App, os.Stderr)

	a, err := internal.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// reconciled is withApp after an incremental rebuild.
func reconciled(ctx context.Context, cmd *cli.Command, fn func(*internal.App) error) error {
	return withApp(ctx, cmd, func(a *internal.App) error {
		if _, err := a.Reconcile(ctx, indexer.RebuildOptions{}); err != nil {
			return err
		}
		return fn(a)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rebuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Reconcile the index with the project files",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Re-extract files even when unchanged"},
			&cli.BoolFlag{Name: "clean", Usage: "Drop the persisted index before rebuilding"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *internal.App) error {
				st, err := a.Reconcile(ctx, indexer.RebuildOptions{Force: cmd.Bool("force"), Clean: cmd.Bool("clean")})
				if err != nil {
					return err
				}
				for _, f := range st.Failed {
					fmt.Fprintf(os.Stderr, "warning: %s: %s\n", f.Path, f.Error)
				}
				if err := printJSON(os.Stdout, st); err != nil {
					return err
				}
				if len(st.Failed) > 0 {
					return cli.Exit(fmt.Sprintf("%d file(s) failed extraction", len(st.Failed)), exitExtractionFailed)
				}
				return nil
			})
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Retrieve chapters and entities relevant to a query",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "hops", Usage: "Maximum graph hops (default from config)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum results (default from config)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			return reconciled(ctx, cmd, func(a *internal.App) error {
				q := a.Service.DefaultQuery(text)
				if cmd.IsSet("hops") {
					q.MaxHops = int(cmd.Int("hops"))
				}
				if cmd.IsSet("limit") {
					q.Limit = int(cmd.Int("limit"))
				}
				results, err := a.Service.Retrieve(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, map[string]any{"query": q.Text, "max_hops": q.MaxHops, "limit": q.Limit, "results": results})
			})
		},
	}
}

func networkCommand() *cli.Command {
	return &cli.Command{
		Name:      "network",
		Usage:     "Build the relationship network among characters",
		ArgsUsage: "[names...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return reconciled(ctx, cmd, func(a *internal.App) error {
				n, err := a.Service.Network(ctx, cmd.Args().Slice())
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, n)
			})
		},
	}
}

func traceCommand() *cli.Command {
	return &cli.Command{
		Name:      "trace",
		Usage:     "Trace a foreshadow by id or name",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return cli.Exit("trace: foreshadow id or name is required", 1)
			}
			return reconciled(ctx, cmd, func(a *internal.App) error {
				c, err := a.Service.Trace(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, c)
			})
		},
	}
}

func foreshadowsCommand() *cli.Command {
	return &cli.Command{
		Name:  "foreshadows",
		Usage: "List foreshadow chains",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "open", Usage: "Only unresolved foreshadows"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return reconciled(ctx, cmd, func(a *internal.App) error {
				return printJSON(os.Stdout, map[string]any{"foreshadows": a.Service.Foreshadows(ctx, cmd.Bool("open"))})
			})
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print graph counts and file index states",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return reconciled(ctx, cmd, func(a *internal.App) error {
				return printJSON(os.Stdout, a.Service.Stats(ctx))
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write the graph as JSON to a file (- for stdout)",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return cli.Exit("export: output file is required", 1)
			}
			return reconciled(ctx, cmd, func(a *internal.App) error {
				if target == "-" {
					return a.Service.Export(os.Stdout)
				}
				return storage.WriteAtomic(target, a.Service.Export)
			})
		},
	}
}
