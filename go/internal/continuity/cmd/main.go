// Command pokerctl is a terminal participant for planning poker sessions. It
// talks to the shared session store directly and remembers the current
// session and identity between runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/pointing/go/internal/continuity"
	"github.com/mcdev12/pointing/go/internal/docstore/backend"
	"github.com/mcdev12/pointing/go/internal/models"
	"github.com/mcdev12/pointing/go/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: pokerctl [flags] <command> [args]

commands:
  create <title>       start a session and join it as creator
  join <code>          join a session by its 6 character code
  leave                leave the current session
  vote <points>        vote with a card (0 0.5 1 2 3 5 8 13 20 40 100 ?)
  reveal               toggle vote visibility
  reset                clear all votes and hide them
  remove <user-id>     remove a participant (creator only)
  delete               delete the current session for everyone
  show                 print the current session
  watch                print the session on every change until interrupted
  name <display name>  set the name shown to other participants
  whoami               print the local identity

flags:
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	fs := flag.NewFlagSet("pokerctl", flag.ExitOnError)
	statePath := fs.String("state", "", "state file (default $XDG_CONFIG_HOME/pointing/state.yaml)")
	storeBackend := fs.String("backend", "", "store backend: memory, postgres, nats or mongo")
	collection := fs.String("collection", session.DefaultCollection, "session collection")
	timeout := fs.Duration("timeout", continuity.DefaultConnectTimeout, "how long to wait for the session")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, fs.Args(), options{
		statePath:  *statePath,
		backend:    *storeBackend,
		collection: *collection,
		timeout:    *timeout,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "pokerctl:", err)
		os.Exit(1)
	}
}

type options struct {
	statePath  string
	backend    string
	collection string
	timeout    time.Duration
}

func run(ctx context.Context, args []string, opts options) error {
	path := opts.statePath
	if path == "" {
		var err error
		if path, err = continuity.DefaultStatePath(); err != nil {
			return err
		}
	}

	storeCfg := backend.Config{}
	storeCfg.ApplyEnv()
	if opts.backend != "" {
		storeCfg.Backend = opts.backend
	}
	store, closeStore, err := backend.Open(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	app := session.NewApp(session.NewRepository(store, opts.collection))
	client, err := continuity.NewClient(app, continuity.NewFileStore(path), continuity.WithConnectTimeout(opts.timeout))
	if err != nil {
		return err
	}
	defer client.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "whoami":
		id := client.Identity()
		fmt.Printf("%s %s\n", id.ID, displayOr(id.Name, "(no name)"))
		return nil

	case "name":
		if len(rest) == 0 {
			return errors.New("name requires a display name")
		}
		return client.SetUserName(strings.Join(rest, " "))

	case "create":
		title := strings.Join(rest, " ")
		if title == "" {
			return errors.New("create requires a title")
		}
		id, err := client.CreateSession(ctx, title)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "join":
		if len(rest) != 1 {
			return errors.New("join requires a session code")
		}
		id, err := client.JoinSession(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}

	// everything below works on the remembered session
	if err := client.Start(ctx, ""); err != nil {
		return err
	}
	view, err := awaitSession(ctx, client, opts.timeout)
	if err != nil {
		return err
	}

	switch cmd {
	case "show":
		renderView(os.Stdout, view, client.Stats(), client.Participants())
		return nil

	case "watch":
		return watch(ctx, client)

	case "leave":
		return client.LeaveSession(ctx)

	case "vote":
		if len(rest) != 1 {
			return errors.New("vote requires a card")
		}
		points, err := models.ParsePoints(rest[0])
		if err != nil {
			return err
		}
		return client.CastVote(ctx, points)

	case "reveal":
		return client.RevealVotes(ctx)

	case "reset":
		return client.ResetVotes(ctx)

	case "remove":
		if len(rest) != 1 {
			return errors.New("remove requires a user id")
		}
		return client.RemoveParticipant(ctx, rest[0])

	case "delete":
		return client.DeleteSession(ctx)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// awaitSession blocks until the client has a live snapshot or gives up
func awaitSession(ctx context.Context, client *continuity.Client, timeout time.Duration) (continuity.View, error) {
	changed := make(chan struct{}, 1)
	stop := client.OnChange(func(continuity.View) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		view := client.View()
		switch view.Status {
		case continuity.StatusLive:
			if view.Session != nil {
				return view, nil
			}
		case continuity.StatusErrored:
			return view, view.Err
		case continuity.StatusIdle:
			return view, session.ErrNoActiveSession
		}

		select {
		case <-changed:
		case <-deadline.C:
			return view, fmt.Errorf("session %s did not load within %s", view.SessionID, timeout)
		case <-ctx.Done():
			return view, ctx.Err()
		}
	}
}

func watch(ctx context.Context, client *continuity.Client) error {
	views := make(chan continuity.View, 16)
	stop := client.OnChange(func(v continuity.View) {
		select {
		case views <- v:
		default:
		}
	})
	defer stop()

	renderView(os.Stdout, client.View(), client.Stats(), client.Participants())
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			if v.Status == continuity.StatusIdle {
				fmt.Println("session ended")
				return nil
			}
			if v.Status == continuity.StatusErrored {
				return v.Err
			}
			fmt.Println()
			renderView(os.Stdout, v, client.Stats(), client.Participants())
		}
	}
}
