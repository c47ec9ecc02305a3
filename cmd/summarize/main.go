package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/toricodesthings/batch-summarizer/internal/config"
	"github.com/toricodesthings/batch-summarizer/internal/extract"
	"github.com/toricodesthings/batch-summarizer/internal/job"
	"github.com/toricodesthings/batch-summarizer/internal/pipeline"
)

const (
	exitFailure     = 1
	exitConfig      = 2
	exitRemoteJob   = 3
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			if msg := strings.TrimSpace(err.Error()); msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", msg)
			}
			stop()
			os.Exit(ec.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitFailure)
	}
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "files",
			Aliases: []string{"f"},
			Usage:   "documents to summarize (trailing arguments are added to this list)",
		},
		&cli.StringFlag{
			Name:    "input-dir",
			Aliases: []string{"d"},
			Usage:   "directory to scan instead of INPUT_DIR",
		},
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "summarize",
		Usage: "extract text from documents and summarize them with a remote batch job",
		Flags: selectionFlags(),
		Before: func(c *cli.Context) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return cli.Exit(err.Error(), exitConfig)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			p := newPipeline()
			_, err := p.Run(c.Context, selection(c))
			if err != nil {
				return exitError(err)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "prepare",
				Usage: "extract text and write the batch request file",
				Flags: selectionFlags(),
				Action: func(c *cli.Context) error {
					p := newPipeline()
					if _, err := p.Prepare(c.Context, selection(c)); err != nil {
						return exitError(err)
					}
					fmt.Println("\nNext step: summarize submit")
					return nil
				},
			},
			{
				Name:  "submit",
				Usage: "upload the newest request file and create the batch job",
				Action: func(c *cli.Context) error {
					if _, err := newPipeline().Submit(c.Context, ""); err != nil {
						return exitError(err)
					}
					fmt.Println("\nNext step: summarize poll")
					return nil
				},
			},
			{
				Name:  "poll",
				Usage: "wait for the newest batch job and save its summaries",
				Action: func(c *cli.Context) error {
					if _, err := newPipeline().Await(c.Context, ""); err != nil {
						return exitError(err)
					}
					return nil
				},
			},
			{
				Name:  "process",
				Usage: "save the summaries of the newest completed batch job",
				Action: func(c *cli.Context) error {
					if _, err := newPipeline().Process(c.Context); err != nil {
						return exitError(err)
					}
					return nil
				},
			},
		},
	}
	// File names may contain commas.
	app.DisableSliceFlagSeparator = true
	// Exit codes are applied in main once the signal context is released.
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func newPipeline() *pipeline.Pipeline {
	cfg := config.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)
	return pipeline.New(pipeline.Options{Config: cfg, Logger: log, Stdout: os.Stdout})
}

func selection(c *cli.Context) extract.Selection {
	files := append([]string{}, c.StringSlice("files")...)
	files = append(files, c.Args().Slice()...)
	return extract.Selection{Files: files, InputDir: c.String("input-dir")}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitError maps pipeline errors to process exit codes.
func exitError(err error) error {
	var (
		cerr *config.ConfigurationError
		rj   *job.RemoteJobError
		ie   *job.InterruptedError
	)
	switch {
	case errors.As(err, &cerr):
		return cli.Exit(err.Error(), exitConfig)
	case errors.Is(err, extract.ErrConflictingSelectors):
		return cli.Exit(err.Error(), exitConfig)
	case errors.As(err, &rj):
		return cli.Exit(err.Error()+"\nThe job handle was kept; inspect the batch before resubmitting.", exitRemoteJob)
	case errors.As(err, &ie):
		return cli.Exit(err.Error()+"\nResume with: summarize poll", exitInterrupted)
	case errors.Is(err, context.Canceled):
		return cli.Exit("interrupted", exitInterrupted)
	default:
		return cli.Exit(err.Error(), exitFailure)
	}
}
