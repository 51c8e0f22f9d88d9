package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/ragstream/internal/version"
	ragstream "github.com/kailas-cloud/ragstream/pkg/sdk"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ragq:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "ragq",
		Usage:   "Ask questions against a ragstream server",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"RAGSTREAM_URL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Bearer API key",
				EnvVars: []string{"RAGSTREAM_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Stream an answer to a question",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "User id for sticky variant routing",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up after this long",
						Value: 60 * time.Second,
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Print trace id, variant and outcome after the answer",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Check server liveness, or readiness with --ready",
				Action: healthCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ready",
						Usage: "Check dependency readiness instead of liveness",
					},
				},
			},
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newClient(c *cli.Context) (*ragstream.Client, error) {
	client, err := ragstream.New(
		ragstream.WithBaseURL(c.String("url")),
		ragstream.WithAPIKey(c.String("api-key")),
		ragstream.WithLogger(newLogger(c.String("log-level"))),
		ragstream.WithUserAgent("ragq/"+version.Version),
	)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("search: query argument is required")
	}

	client, err := newClient(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	out := c.App.Writer
	res, err := client.Search(ctx, query, c.String("user"), func(chunk string) error {
		_, werr := io.WriteString(out, chunk)
		return werr
	})
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if c.Bool("verbose") {
		fmt.Fprintf(out, "trace_id=%s variant=%s outcome=%s\n", res.TraceID, res.Variant, res.Outcome)
	}
	return nil
}

func healthCommand(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}

	check := client.Health
	if c.Bool("ready") {
		check = client.Ready
	}
	hs, err := check(c.Context)

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if hs.Status != "" {
		_ = enc.Encode(hs)
	}
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}
