// Command coursegen builds one course from the command line and prints it as
// JSON. Progress is logged to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/p-n-ai/pai-course/internal/app"
	"github.com/p-n-ai/pai-course/internal/platform/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("coursegen failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	topic   string
	storage string
	indent  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("coursegen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.topic, "topic", "", "topic to build a course for (required)")
	fs.StringVar(&opts.storage, "storage", "", "override LEARN_STORAGE_DRIVER (postgres or memory)")
	fs.BoolVar(&opts.indent, "indent", true, "pretty-print the course JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.topic == "" && fs.NArg() > 0 {
		opts.topic = fs.Arg(0)
	}
	if opts.topic == "" {
		return opts, errors.New("a topic is required: coursegen -topic \"Go channels\"")
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.storage != "" {
		cfg.Storage.Driver = opts.storage
	}
	slog.SetDefault(app.NewLogger(stderr, config.LogConfig{Level: cfg.Log.Level, Format: "text"}))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.Generator.Generate(ctx, opts.topic)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if opts.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(c)
}
