package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/toom/toom/internal/board"
	"github.com/toom/toom/internal/store"
	"github.com/urfave/cli/v2"
)

func messageRow(m board.MessageRecord) string {
	edited := "no"
	if m.Edited {
		edited = "yes"
	}
	return strings.Join([]string{strconv.Itoa(m.Number), m.Timestamp, m.Username, m.Body, edited}, "; ")
}

func sessionRow(s board.SessionRecord) string {
	return strings.Join([]string{strconv.Itoa(s.Number), s.Timestamp, s.Username, s.Host, strconv.Itoa(s.UDPPort)}, "; ")
}

func dump(w io.Writer, st *store.Store, messages, sessions bool) error {
	if messages {
		recs, err := st.Messages.ReadAll()
		if err != nil {
			return err
		}
		for _, m := range recs {
			fmt.Fprintln(w, messageRow(m))
		}
	}
	if sessions {
		recs, err := st.Sessions.ReadAll()
		if err != nil {
			return err
		}
		for _, s := range recs {
			fmt.Fprintln(w, sessionRow(s))
		}
	}
	return nil
}

// dumpCmd prints the logs of a board database without modifying it.
var dumpCmd = &cli.Command{
	Name:      "dump",
	Usage:     "dump [options] <toom.db> – print the message and session logs",
	ArgsUsage: "<toom.db>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "messages",
			Aliases: []string{"m"},
			Usage:   "Print only the message log",
		},
		&cli.BoolFlag{
			Name:    "sessions",
			Aliases: []string{"s"},
			Usage:   "Print only the session log",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("Usage: dump [options] <toom.db>", 1)
		}
		st, err := store.Inspect(expandPath(c.Args().First()))
		if err != nil {
			return err
		}
		defer st.Close()

		messages, sessions := c.Bool("messages"), c.Bool("sessions")
		if !messages && !sessions {
			messages, sessions = true, true
		}
		return dump(c.App.Writer, st, messages, sessions)
	},
}
