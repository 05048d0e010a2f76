package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/toltec-astro/dvpipe/internal"
	"github.com/toltec-astro/dvpipe/internal/dataverse"
	"github.com/toltec-astro/dvpipe/internal/models"
)

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s\n", out)
	return err
}

// withClient is withComponents for commands that need a Dataverse connection.
func withClient(ctx context.Context, cmd *cli.Command, fn func(context.Context, *env, *internal.Components) error) error {
	return withComponents(ctx, cmd, func(ctx context.Context, e *env, c *internal.Components) error {
		if c.Client == nil {
			return internal.ErrDataverseDisabled
		}
		return fn(ctx, e, c)
	})
}

func datasetCommand() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "List, search and deposit datasets",
		Commands: []*cli.Command{
			{
				Name:  "info",
				Usage: "Show the installation URL and version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						v, err := c.Client.InfoVersion(ctx)
						if err != nil {
							return err
						}
						_, err = fmt.Fprintf(stdout, "%s\t%s\n", c.Client.BaseURL(), v)
						return err
					})
				},
			},
			{
				Name:      "list",
				Usage:     "List the contents of a dataverse collection",
				ArgsUsage: "[COLLECTION]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, e *env, c *internal.Components) error {
						parent := cmd.Args().First()
						if parent == "" {
							parent = e.cfg.Upload.Parent
						}
						items, err := c.Client.Contents(ctx, parent)
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "TYPE\tID\tPERSISTENT ID\tTITLE")
						for _, it := range items {
							fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", it.Type, it.ID, it.PersistentID, it.Title)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "search",
				Usage:     "Query the Dataverse search API",
				ArgsUsage: "[QUERY]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: "dataset", Usage: "dataverse, dataset or file"},
					&cli.StringFlag{Name: "subtree", Usage: "Restrict to a collection"},
					&cli.IntFlag{Name: "per_page", Value: 50, Usage: "Results per page"},
					&cli.IntFlag{Name: "start", Usage: "Offset of the first result"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						res, err := c.Client.Search(ctx, dataverse.SearchQuery{
							Q:       strings.Join(cmd.Args().Slice(), " "),
							Type:    cmd.String("type"),
							Subtree: cmd.String("subtree"),
							PerPage: int(cmd.Int("per_page")),
							Start:   int(cmd.Int("start")),
						})
						if err != nil {
							return err
						}
						return printJSON(res)
					})
				},
			},
			{
				Name:      "upload",
				Usage:     "Deposit a dataset index: an index file or the stored index of a project",
				ArgsUsage: "INDEX_FILE|PROJECT_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Usage: "Parent collection (defaults to upload.parent)"},
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Usage: "none, update or create (defaults to upload.action)"},
					&cli.StringFlag{Name: "publish", Usage: "none, major or minor (defaults to upload.publish)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, upload(cmd))
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a draft dataset",
				ArgsUsage: "PERSISTENT_ID",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, e *env, c *internal.Components) error {
						pid := cmd.Args().First()
						if pid == "" {
							return errors.New("delete: a persistent id is required")
						}
						if err := c.Client.DeleteDataset(ctx, pid); err != nil {
							return err
						}
						e.logger.Info("dataset deleted", slog.String("pid", pid))
						return nil
					})
				},
			},
		},
	}
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// loadIndex reads arg as an index file, falling back to the stored index of
// the project with that id.
func loadIndex(c *internal.Components, arg string) (*models.DatasetIndex, error) {
	f, err := os.Open(arg)
	if errors.Is(err, fs.ErrNotExist) {
		return c.Indices.Load(arg)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return models.ReadIndex(f)
}

func upload(cmd *cli.Command) func(context.Context, *env, *internal.Components) error {
	return func(ctx context.Context, e *env, c *internal.Components) error {
		arg := cmd.Args().First()
		if arg == "" {
			return errors.New("upload: an index file or project id is required")
		}
		action, err := dataverse.ParseAction(or(cmd.String("action"), e.cfg.Upload.Action))
		if err != nil {
			return err
		}
		publish, err := dataverse.ParsePublishType(or(cmd.String("publish"), e.cfg.Upload.Publish))
		if err != nil {
			return err
		}
		idx, err := loadIndex(c, arg)
		if err != nil {
			return err
		}
		res, err := c.Uploader.UploadDataset(ctx, or(cmd.String("parent"), e.cfg.Upload.Parent), idx, action, publish)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
}

func userCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Show the user the API token belongs to",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withClient(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
				u, err := c.Client.CurrentUser(ctx)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List every user (superuser token required)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						users, err := c.Client.ListUsers(ctx)
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tIDENTIFIER\tNAME\tEMAIL\tSUPERUSER")
						for _, u := range users {
							fmt.Fprintf(tw, "%d\t%s\t%s %s\t%s\t%t\n", u.ID, u.Identifier, u.FirstName, u.LastName, u.Email, u.Superuser)
						}
						return tw.Flush()
					})
				},
			},
		},
	}
}
