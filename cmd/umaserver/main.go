// Command umaserver runs the authorization server outside of Answer, with
// clients, users and resource sets read from a HuJSON file.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"

	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
)

const progname = "umaserver"

var rootCmd = struct {
	Debug bool `env:"UMA_DEBUG" help:"Enable debug logging, overriding the configured level."`

	Serve          ServeCmd          `cmd:"" help:"Serve the authorization server."`
	ValidateConfig ValidateConfigCmd `cmd:"" help:"Validate the configuration file."`
	HashPassword   HashPasswordCmd   `cmd:"" help:"Print the bcrypt hash of a password for the users list."`
}{}

type ValidateConfigCmd struct {
	Config string `name:"config" short:"c" required:"" type:"existingfile" env:"UMA_CONFIG_FILE" help:"Path to the config file."`
}

func (c *ValidateConfigCmd) Run(logger *slog.Logger) error {
	file, err := config.LoadFile(c.Config)
	if err != nil {
		return err
	}
	if _, err = file.Provider(); err != nil {
		return err
	}
	logger.Info("configuration is valid",
		slog.String("issuer", file.Issuer),
		slog.Int("clients", len(file.Clients)),
		slog.Int("resource_sets", len(file.ResourceSets)),
	)
	return nil
}

type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash. Read from stdin when omitted."`
}

func (c *HashPasswordCmd) Run(stdout io.Writer) error {
	password := c.Password
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	hash, err := resourceowner.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
		// Exit immediately on second signal
		<-sigCh
		os.Exit(1)
	}()

	clictx := kong.Parse(
		&rootCmd,
		kong.Name(progname),
		kong.Description("umaserver is an OAuth2, OpenID Connect and UMA 2.0 authorization server"),
		kong.UsageOnError(),
	)

	level := slog.LevelInfo
	if rootCmd.Debug {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, "text", level)
	slog.SetDefault(logger)

	clictx.Bind(logger)
	clictx.BindTo(os.Stdout, (*io.Writer)(nil))
	clictx.BindTo(ctx, (*context.Context)(nil))
	clictx.FatalIfErrorf(clictx.Run())
}
