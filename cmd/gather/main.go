// Command gather authors and updates poll and event snapshots offline. Every
// command that changes state prints the new locator on stdout, ready to paste
// into any chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/maaaruch/gather-bot/internal/app"
	"github.com/maaaruch/gather-bot/internal/config"
	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/identity"
	"github.com/maaaruch/gather-bot/internal/reconcile"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/storage"
	"github.com/maaaruch/gather-bot/internal/transport"
)

const usage = `usage: gather [flags] <command> [args]

commands:
  new-poll [-multi] <question> <option>...
  new-event [-image file] <title> <location> <date/time> [details]
  vote <locator> <option index>...
  react <locator> <symbol>
  show <locator>
  whoami
`

var errUsage = errors.New("bad usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load("gather", args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	log := cfg.Logger(stderr)

	if len(cfg.Args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	store, err := storage.OpenKV(ctx, cfg.StoreOptions())
	if err != nil {
		log.Error("open identity store", "error", err)
		return 1
	}
	defer store.Close()

	codec, err := snapshot.NewCodec()
	if err != nil {
		log.Error("compile snapshot schemas", "error", err)
		return 1
	}

	c := &cli{
		log:    log,
		me:     identity.New(store, identity.DefaultKey, identity.WithLogger(log)),
		codec:  codec,
		engine: reconcile.New(codec, transport.NewWriter(stdout), reconcile.WithLogger(log)),
		stdout: stdout,
		stderr: stderr,
	}

	err = c.dispatch(ctx, cfg.Args[0], cfg.Args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type cli struct {
	log    *slog.Logger
	me     *identity.Provider
	codec  *snapshot.Codec
	engine *reconcile.Engine
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "new-poll":
		return c.newPoll(ctx, args)
	case "new-event":
		return c.newEvent(ctx, args)
	case "vote":
		return c.vote(ctx, args)
	case "react":
		return c.react(ctx, args)
	case "show":
		return c.show(ctx, args)
	case "whoami":
		fmt.Fprintln(c.stdout, c.me.ParticipantID(ctx))
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *cli) newPoll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new-poll", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	multi := fs.Bool("multi", false, "allow several answers")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: new-poll needs a question and at least one option", errUsage)
	}

	poll, err := domain.NewPoll(fs.Arg(0), fs.Args()[1:], *multi)
	if err != nil {
		return err
	}
	_, err = c.engine.Publish(ctx, poll, 0, nil)
	return err
}

func (c *cli) newEvent(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new-event", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	imagePath := fs.String("image", "", "small image embedded in the snapshot")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 3 {
		return fmt.Errorf("%w: new-event needs title, location and date/time", errUsage)
	}

	var image []byte
	if *imagePath != "" {
		b, err := os.ReadFile(*imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		image = b
	}

	event, err := domain.NewEvent(fs.Arg(0), fs.Arg(1), fs.Arg(2), fs.Arg(3), image)
	if err != nil {
		return err
	}
	_, err = c.engine.Publish(ctx, event, 0, nil)
	return err
}

func (c *cli) receive(ctx context.Context, payload string) (*reconcile.Reconciliation, error) {
	return c.engine.Receive(ctx, transport.Inbound{Payload: payload, From: "cli"}, c.me.ParticipantID(ctx))
}

func (c *cli) vote(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: vote needs a locator and an option index", errUsage)
	}
	indices := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		i, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("%w: option index %q is not a number", errUsage, a)
		}
		indices = append(indices, i)
	}

	r, err := c.receive(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := r.Vote(ctx, indices...)
	if err != nil {
		return err
	}
	if !out.Applied {
		if r.ReadOnly() {
			fmt.Fprintln(c.stderr, "you already voted")
			fmt.Fprintln(c.stderr, app.Results(r.Snapshot().Poll))
		} else {
			fmt.Fprintln(c.stderr, "nothing changed")
		}
	}
	return nil
}

func (c *cli) react(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: react needs a locator and a symbol", errUsage)
	}
	r, err := c.receive(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := r.React(ctx, args[1])
	if err != nil {
		return err
	}
	if !out.Applied {
		fmt.Fprintln(c.stderr, "nothing changed")
	}
	return nil
}

func (c *cli) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show needs a locator", errUsage)
	}
	r, err := c.receive(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Dismiss()

	snap := r.Snapshot()
	summary, _ := app.Render(snap.Aggregate())
	fmt.Fprintln(c.stdout, summary)
	if r.ReadOnly() {
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, app.Results(snap.Poll))
	}
	c.log.Debug("shown", "fingerprint", snap.Fingerprint)
	return nil
}
