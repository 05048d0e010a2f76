package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/toltec-astro/dvpipe/internal"
	"github.com/toltec-astro/dvpipe/internal/lmt"
	"github.com/toltec-astro/dvpipe/internal/mcpserver"
	"github.com/toltec-astro/dvpipe/internal/metadb"
	"github.com/toltec-astro/dvpipe/internal/metaservice"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the metadata tools over MCP on stdin/stdout",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withComponents(ctx, cmd, func(_ context.Context, _ *env, c *internal.Components) error {
				return mcpserver.New(c.Service, version).ServeStdio()
			})
		},
	}
}

func formatFlag(name, value, usage string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Aliases: []string{name[:1]}, Value: value, Usage: usage + " (flat, wire or session)"}
}

func readInput(cmd *cli.Command) ([]byte, error) {
	switch path := cmd.Args().First(); path {
	case "":
		return nil, fmt.Errorf("%s: an input file is required", cmd.Name)
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(path)
	}
}

func writeOutput(cmd *cli.Command, data []byte) error {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	if out := cmd.String("output"); out != "" {
		return os.WriteFile(out, data, 0o644)
	}
	_, err := stdout.Write(data)
	return err
}

var outputFlag = &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write to this file instead of stdout"}

func metadataCommand() *cli.Command {
	return &cli.Command{
		Name:  "metadata",
		Usage: "Inspect the metadata blocks and validate or convert metadata documents",
		Commands: []*cli.Command{
			{
				Name:  "example",
				Usage: "Print the reference LMT session",
				Flags: []cli.Flag{formatFlag("format", "session", "Output format"), outputFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						to, err := metaservice.ParseFormat(cmd.String("format"))
						if err != nil {
							return err
						}
						g, err := c.Service.Example(ctx, time.Now())
						if err != nil {
							return err
						}
						out, err := c.Service.Render(g, to)
						if err != nil {
							return err
						}
						return writeOutput(cmd, out)
					})
				},
			},
			{
				Name:  "fields",
				Usage: "List the fields of a metadata block",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "block", Aliases: []string{"b"}, Value: lmt.BlockName, Usage: "Block name"},
					&cli.BoolFlag{Name: "csv", Usage: "Write the field table as CSV"},
					outputFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						return listFields(ctx, cmd, c)
					})
				},
			},
			{
				Name:      "validate",
				Usage:     "Check a metadata document, including required fields",
				ArgsUsage: "FILE",
				Flags:     []cli.Flag{formatFlag("from", "session", "Input format")},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						from, err := metaservice.ParseFormat(cmd.String("from"))
						if err != nil {
							return err
						}
						data, err := readInput(cmd)
						if err != nil {
							return err
						}
						if _, err := c.Service.Convert(ctx, data, from, from, true); err != nil {
							return err
						}
						fmt.Fprintf(stdout, "%s: ok\n", cmd.Args().First())
						return nil
					})
				},
			},
			{
				Name:      "wire",
				Usage:     "Convert a metadata document to another format",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					formatFlag("from", "session", "Input format"),
					formatFlag("to", "wire", "Output format"),
					&cli.BoolFlag{Name: "validate", Usage: "Require every mandatory field"},
					outputFlag,
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						from, err := metaservice.ParseFormat(cmd.String("from"))
						if err != nil {
							return err
						}
						to, err := metaservice.ParseFormat(cmd.String("to"))
						if err != nil {
							return err
						}
						data, err := readInput(cmd)
						if err != nil {
							return err
						}
						out, err := c.Service.Convert(ctx, data, from, to, cmd.Bool("validate"))
						if err != nil {
							return err
						}
						return writeOutput(cmd, out)
					})
				},
			},
			{
				Name:      "mirror",
				Usage:     "Write the LMT block of a metadata document into the SQLite mirror",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					formatFlag("from", "session", "Input format"),
					&cli.StringFlag{Name: "db", Usage: "Database path (defaults to sqlite.path)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(_ context.Context, e *env, c *internal.Components) error {
						return mirror(cmd, e, c)
					})
				},
			},
		},
	}
}

func listFields(ctx context.Context, cmd *cli.Command, c *internal.Components) error {
	block := cmd.String("block")
	if cmd.Bool("csv") {
		sc, ok := c.Catalog.Schema(block)
		if !ok {
			return fmt.Errorf("unknown block %q", block)
		}
		var sb strings.Builder
		if err := sc.WriteFieldsCSV(&sb); err != nil {
			return err
		}
		return writeOutput(cmd, []byte(sb.String()))
	}
	fields, err := c.Service.Fields(ctx, block)
	if err != nil {
		return err
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tPARENT\tUNIT\tREQUIRED\tMULTIPLE\tVOCABULARY")
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\t%s\n",
			f.Name, f.FieldType, f.Parent, f.Unit, f.Required, f.AllowMultiples, strings.Join(f.AllowedValues, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeOutput(cmd, []byte(sb.String()))
}

func mirror(cmd *cli.Command, e *env, c *internal.Components) error {
	from, err := metaservice.ParseFormat(cmd.String("from"))
	if err != nil {
		return err
	}
	data, err := readInput(cmd)
	if err != nil {
		return err
	}
	g, err := c.Service.Load(data, from)
	if err != nil {
		return err
	}
	b, ok := g.Block(lmt.BlockName)
	if !ok || len(b.Keys()) == 0 {
		return fmt.Errorf("%s: no %s metadata to mirror", cmd.Args().First(), lmt.BlockName)
	}
	path := cmd.String("db")
	if path == "" {
		path = e.cfg.SQLite.Path
	}
	db, err := metadb.Open(path, true)
	if err != nil {
		return err
	}
	defer db.Close()
	res, err := metadb.NewMirror(db, c.Catalog.KeyMap, e.logger).Write(b)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]any{
		"db":      path,
		"created": db.Created(),
		"alma":    res.AlmaIDs,
		"win":     res.WindowIDs,
		"lines":   res.LineIDs,
		"other":   res.Other,
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd, out)
}
