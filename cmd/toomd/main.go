// Command toomd is the TOOM bulletin-board server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/server"
	"github.com/urfave/cli/v2"
)

// expandPath expands the ~ in a path to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}

// writePIDFile writes the current process ID to the PID file.
func writePIDFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for PID file: %w", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// applyPositional accepts the "<port> <attempts>" form.
func applyPositional(config *server.Config, args cli.Args) error {
	switch args.Len() {
	case 0:
		return nil
	case 2:
	default:
		return cli.Exit("Usage: toomd [options] [<server_port> <number_of_consecutive_failed_attempts>]", 1)
	}

	port, err := strconv.Atoi(args.Get(0))
	if err != nil || port <= 0 || port > 65535 {
		return cli.Exit(fmt.Sprintf("invalid server port %q", args.Get(0)), 1)
	}
	attempts, err := strconv.Atoi(args.Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Invalid number of allowed failed consecutive attempts: %s. Valid value is an integer between 1 and 5", args.Get(1)), 1)
	}

	config.ListenAddr = ":" + strconv.Itoa(port)
	config.AllowedFailedAttempts = attempts
	return nil
}

// runServer runs the board server until SIGINT or SIGTERM.
func runServer(config server.Config, pidFile string) error {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			return err
		}
		defer removePIDFile(pidFile)
	}

	srv, err := server.New(config)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("addr", srv.Addr().String()).
		Int("attempts", config.AllowedFailedAttempts).
		Dur("lockout", config.LockoutDuration).
		Msg("Waiting for clients")

	return srv.Serve(ctx)
}

func main() {
	config := server.DefaultConfig()
	var pidFile string

	app := &cli.App{
		Name:      "toomd",
		Usage:     "TOOM bulletin-board server",
		ArgsUsage: "[<server_port> <number_of_consecutive_failed_attempts>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"L"},
				Usage:       "Address to accept clients on",
				Value:       config.ListenAddr,
				Destination: &config.ListenAddr,
			},
			&cli.IntFlag{
				Name:        "attempts",
				Aliases:     []string{"a"},
				Usage:       "Consecutive failed logins before lockout (1-5)",
				Value:       config.AllowedFailedAttempts,
				Destination: &config.AllowedFailedAttempts,
			},
			&cli.DurationFlag{
				Name:        "lockout",
				Usage:       "How long a locked account stays locked",
				Value:       10 * time.Second,
				Destination: &config.LockoutDuration,
			},
			&cli.StringFlag{
				Name:        "credentials",
				Aliases:     []string{"c"},
				Usage:       "Path to the credentials file",
				Value:       config.CredentialsPath,
				Destination: &config.CredentialsPath,
			},
			&cli.StringFlag{
				Name:        "db",
				Aliases:     []string{"d"},
				Usage:       "Path to the board database",
				Value:       config.DatabasePath,
				Destination: &config.DatabasePath,
			},
			&cli.StringFlag{
				Name:        "pid-file",
				Aliases:     []string{"p"},
				Usage:       "Path to the PID file",
				Destination: &pidFile,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "info",
				Destination: &config.LogLevel,
			},
		},
		Commands: []*cli.Command{dumpCmd},
		Action: func(c *cli.Context) error {
			if err := applyPositional(&config, c.Args()); err != nil {
				return err
			}

			config.CredentialsPath = expandPath(config.CredentialsPath)
			config.DatabasePath = expandPath(config.DatabasePath)
			pidFile = expandPath(pidFile)

			return runServer(config, pidFile)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("toomd failed")
		os.Exit(1)
	}
}
