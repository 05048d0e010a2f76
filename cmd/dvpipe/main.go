package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/toltec-astro/dvpipe/internal"
	pkgconfig "github.com/toltec-astro/dvpipe/pkg/config"
)

var version = "0.4.0"

// Output streams, replaced in tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// env is what every command needs after the root flags are applied.
type env struct {
	cfg    *internal.Config
	logger *slog.Logger
}

// setup loads the env file and the config named by the root flags and
// installs the CLI logger.
func setup(cmd *cli.Command) (*env, error) {
	if f := cmd.String("env_file"); f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if !cmd.Bool("no_banner") {
		fmt.Fprintf(stderr, "dvpipe %s\n", version)
	}

	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if err := pkgconfig.Load(configPath, cfg, pkgconfig.Optional(), pkgconfig.WithEnvPrefix(internal.EnvPrefix)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.App.LogLevel = slog.LevelDebug
	}
	logger.Debug("config loaded", slog.String("path", configPath))
	return &env{cfg: cfg, logger: logger}, nil
}

// withComponents runs fn with the domain layer built from the config.
func withComponents(ctx context.Context, cmd *cli.Command, fn func(context.Context, *env, *internal.Components) error) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	comps, err := internal.Build(e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(ctx, e, comps)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(e.cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "dvpipe",
		Usage:   "Validate, convert and deposit LMT pipeline dataset metadata in Dataverse",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "dvpipe.yaml",
				Value:       "dvpipe.yaml",
				Sources:     cli.EnvVars("DVPIPE_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "env_file",
				Aliases: []string{"e"},
				Usage:   "Path to a .env file loaded before the config",
				Value:   ".env",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"g"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no_banner",
				Usage: "Do not print the version banner",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the project watcher",
				Action: serve,
			},
			mcpCommand(),
			metadataCommand(),
			datasetCommand(),
			userCommand(),
			lmtslrCommand(),
			jobCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
