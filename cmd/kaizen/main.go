// Command kaizen is the CLI for the Kaizen memory system.
//
// Usage:
//
//	kaizen serve
//	kaizen sync --limit 200
//	kaizen namespace list
//	kaizen entity search "retry strategy" --type guideline
//	kaizen consolidate --threshold 0.85
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/kaizen-ai/kaizen/pkg/client"
	"github.com/kaizen-ai/kaizen/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Serve       ServeCmd       `cmd:"" help:"Start the HTTP/MCP server."`
	Sync        SyncCmd        `cmd:"" help:"Pull spans from the trace store and generate tips."`
	Namespace   NamespaceCmd   `cmd:"" help:"Manage namespaces."`
	Entity      EntityCmd      `cmd:"" help:"Manage entities."`
	Consolidate ConsolidateCmd `cmd:"" help:"Cluster and merge overlapping guidelines."`

	EnvFile   string `name:"env-file" help:"Path to a .env file." type:"path"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("kaizen version %s\n", version)
	return nil
}

// loadClient builds the facade client from the environment.
func loadClient(cli *CLI) (*config.Config, *client.Client, error) {
	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

func initLogger(levelName, format string) error {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q", levelName)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("kaizen"),
		kong.Description("Kaizen - agent memory that learns from trajectories"),
		kong.UsageOnError(),
	)

	if err := initLogger(cli.LogLevel, cli.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
