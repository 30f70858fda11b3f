package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/elee1766/chathistory/src/app"
	"github.com/elee1766/chathistory/src/config"
)

// drainTimeout bounds how long shutdown waits for queued history writes.
const drainTimeout = 30 * time.Second

// CLI represents the main CLI structure
type CLI struct {
	Config    string `help:"Config file to load instead of the standard search path" type:"path" env:"CHATHISTORY_CONFIG"`
	EnvFile   string `help:"Dotenv file loaded before the configuration" default:".env" type:"path"`
	Driver    string `help:"Database driver (sqlite, postgres, mysql)"`
	DSN       string `help:"Database DSN, or file path for sqlite" name:"dsn"`
	LogLevel  string `help:"Log level (debug, info, warn, error)"`
	LogFormat string `help:"Log format (text, json)"`

	Migrate MigrateCmd `cmd:"" help:"Database migrations"`
	Chat    ChatCmd    `cmd:"" help:"Send a prompt to the configured model and record the turn"`
	Replay  ReplayCmd  `cmd:"" help:"Replay JSONL chunk logs through the recorder"`
	History HistoryCmd `cmd:"" help:"Print recorded chats"`
	Usage   UsageCmd   `cmd:"" help:"Summarize recorded token usage"`
	Schema  SchemaCmd  `cmd:"" help:"Print the JSON schema of the chunk log format"`
}

func main() {
	var cli CLI
	loadDotenv(envFileArg(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name("chathistory"),
		kong.Description("Record language model conversations into a SQL chat history"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	err := kctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// envFileArg finds --env-file before kong runs so the file can feed env-backed flags.
func envFileArg(args []string) string {
	for i, a := range args {
		switch {
		case a == "--env-file" && i+1 < len(args):
			return args[i+1]
		case len(a) > len("--env-file=") && a[:len("--env-file=")] == "--env-file=":
			return a[len("--env-file="):]
		}
	}
	return ".env"
}

func loadDotenv(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", path, err)
	}
}

// loadConfig resolves the configuration and applies command line overrides.
func (cli *CLI) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	loader := config.NewLoader(config.GetConfigPaths())
	if cli.Config != "" {
		cfg, err = loader.LoadFile(cli.Config)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if cli.Driver != "" {
		cfg.Database.Driver = cli.Driver
	}
	if cli.DSN != "" {
		cfg.Database.DSN = cli.DSN
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// openApp loads configuration and opens the application. mutate, when non-nil, adjusts the
// configuration before anything is opened.
func (cli *CLI) openApp(ctx context.Context, mutate func(*config.Config)) (*app.App, *slog.Logger, error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	logger := createCLILogger(cfg.Logging.Level, cfg.Logging.Format)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

// closeApp drains recorder work even when the command context was canceled.
func closeApp(a *app.App, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Error("failed to close", "error", err)
	}
}
