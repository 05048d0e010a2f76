package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v3"

	"github.com/toltec-astro/dvpipe/internal"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
)

var errNoProjects = errors.New("project.parent_path is not configured")

func lmtslrCommand() *cli.Command {
	return &cli.Command{
		Name:  "lmtslr",
		Usage: "LMT spectral line reduction products",
		Commands: []*cli.Command{
			{
				Name: "create_index",
				Usage: "Create dataset indices for the given project directories, " +
					"or for every project below project.parent_path",
				ArgsUsage: "[PROJECT_DIR...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry_run", Aliases: []string{"n"}, Usage: "Print the indices instead of storing them"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, e *env, c *internal.Components) error {
						return createIndex(ctx, cmd, e, c)
					})
				},
			},
		},
	}
}

func createIndex(ctx context.Context, cmd *cli.Command, e *env, c *internal.Components) error {
	dirs := cmd.Args().Slice()
	if len(dirs) == 0 {
		if c.Runner == nil {
			return errNoProjects
		}
		if !cmd.Bool("dry_run") {
			n, err := c.Runner.CreateIndices(ctx)
			fmt.Fprintf(stdout, "indexed %d projects\n", n)
			return err
		}
		re, err := e.cfg.Project.Regexp()
		if err != nil {
			return err
		}
		found, err := pipeline.FindProjectDirs(e.cfg.Project.ParentPath, re)
		if err != nil {
			return err
		}
		dirs = found
	}

	indexer := pipeline.NewIndexer(c.Catalog.NewGroup)
	var errs *multierror.Error
	for _, dir := range dirs {
		idx, err := indexer.CreateDatasetIndex(filepath.Clean(dir))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		if err := emitIndex(cmd, e, c, idx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func emitIndex(cmd *cli.Command, e *env, c *internal.Components, idx *models.DatasetIndex) error {
	if cmd.Bool("dry_run") {
		out, err := models.MarshalIndex(idx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "---\n%s", out)
		return err
	}
	path, err := c.Indices.Save(idx)
	if err != nil {
		return err
	}
	e.logger.Info("dataset index saved",
		slog.String("project_id", idx.Meta.ProjectID),
		slog.String("path", filepath.Join(c.Store.Root(), path)))
	return nil
}

func jobCommand() *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Pipeline jobs over the project directories",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the available jobs",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, _ *env, c *internal.Components) error {
						tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "NAME\tDESCRIPTION")
						for _, j := range c.Service.Jobs(ctx) {
							fmt.Fprintf(tw, "%s\t%s\n", j.Name, j.Description)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "run",
				Usage:     "Run a job",
				ArgsUsage: "NAME",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withComponents(ctx, cmd, func(ctx context.Context, e *env, c *internal.Components) error {
						name := cmd.Args().First()
						if name == "" {
							return errors.New("run: a job name is required")
						}
						if c.Runner == nil {
							return errNoProjects
						}
						n, err := c.Service.RunJob(ctx, name)
						e.logger.Info("job finished", slog.String("job", name), slog.Int("items", n))
						return err
					})
				},
			},
		},
	}
}
