// Command toom is the TOOM bulletin-board client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/toom/toom/internal/client"
	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/secretstore"
	"github.com/toom/toom/internal/transfer"
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

// applyPositional accepts the "<server_name> <server_port> <client_udp_port>" form.
func applyPositional(config *client.Config, args cli.Args) error {
	switch args.Len() {
	case 0:
		return nil
	case 3:
	default:
		return cli.Exit("Usage: toom [options] [<server_name> <server_port> <client_udp_port>]", 1)
	}

	port, err := strconv.Atoi(args.Get(1))
	if err != nil || port <= 0 || port > 65535 {
		return cli.Exit(fmt.Sprintf("invalid server port %q", args.Get(1)), 1)
	}
	udpPort, err := strconv.Atoi(args.Get(2))
	if err != nil || udpPort < 0 || udpPort > 65535 {
		return cli.Exit(fmt.Sprintf("invalid client UDP port %q", args.Get(2)), 1)
	}

	config.ServerAddr = net.JoinHostPort(args.Get(0), strconv.Itoa(port))
	config.UDPPort = udpPort
	return nil
}

type options struct {
	config   client.Config
	username string
	remember bool
	logLevel string
}

func run(opts options) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	ctx := context.Background()
	c, err := client.Dial(ctx, opts.config)
	if err != nil {
		return err
	}
	defer c.Close()

	out := os.Stdout
	c.OnReceive = func(r transfer.Received) {
		if r.Err != nil {
			fmt.Fprintf(out, "\nFailed to receive %s from %s.\n%s", r.Filename, r.Username, Prompt)
			return
		}
		fmt.Fprintf(out, "\nReceived %s from %s.\n%s", r.Filename, r.Username, Prompt)
	}
	c.OnUpload = func(s transfer.Sent, err error) {
		if err != nil {
			fmt.Fprintf(out, "\nFailed to upload %s: %v\n%s", s.Filename, err, Prompt)
			return
		}
		fmt.Fprintf(out, "\n%s has been uploaded.\n%s", s.Filename, Prompt)
	}

	in := bufio.NewReader(os.Stdin)
	p := &prompter{in: in, out: out, fd: int(os.Stdin.Fd())}
	if err := login(ctx, c, p, secretstore.Default, opts); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	log.Debug().Str("udp", c.UDPAddr().String()).Msg("Ready")

	return repl(ctx, c, in, out)
}

func main() {
	opts := options{config: client.DefaultConfig()}
	opts.config.Transfer.Dir = "."

	app := &cli.App{
		Name:      "toom",
		Usage:     "TOOM bulletin-board client",
		ArgsUsage: "[<server_name> <server_port> <client_udp_port>]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Usage:       "Server address (host:port)",
				Value:       opts.config.ServerAddr,
				Destination: &opts.config.ServerAddr,
			},
			&cli.IntFlag{
				Name:        "udp-port",
				Aliases:     []string{"u"},
				Usage:       "Local UDP port for file transfers (0 picks one)",
				Destination: &opts.config.UDPPort,
			},
			&cli.StringFlag{
				Name:        "download-dir",
				Aliases:     []string{"d"},
				Usage:       "Directory received files are written to",
				Value:       ".",
				Destination: &opts.config.Transfer.Dir,
			},
			&cli.StringFlag{
				Name:        "user",
				Usage:       "Username to log in as",
				Destination: &opts.username,
			},
			&cli.BoolFlag{
				Name:        "remember",
				Aliases:     []string{"r"},
				Usage:       "Keep the password in the system secret store",
				Destination: &opts.remember,
			},
			&cli.DurationFlag{
				Name:        "connect-timeout",
				Usage:       "Timeout for connecting to the server",
				Value:       opts.config.Transport.ConnectTimeout,
				Destination: &opts.config.Transport.ConnectTimeout,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "warn",
				Destination: &opts.logLevel,
			},
		},
		Action: func(c *cli.Context) error {
			if err := applyPositional(&opts.config, c.Args()); err != nil {
				return err
			}
			opts.config.Transfer.Dir = expandPath(opts.config.Transfer.Dir)
			return run(opts)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("toom failed")
		os.Exit(1)
	}
}
