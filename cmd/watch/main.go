package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/logging"
	"github.com/brensch/rolloutiw/stream"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Event stream of a running rollout")
	boards := flag.Bool("boards", false, "Print the arena after every step that carries one")
	steps := flag.Bool("steps", false, "Print every step, not just decisions and episodes")
	timeout := flag.Duration("timeout", 5*time.Second, "Handshake timeout")
	flag.Parse()

	logger := logging.New(os.Stderr, logging.Options{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := stream.Dial(ctx, *url, *timeout)
	if err != nil {
		logger.Error("dial failed", "url", *url, "error", err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	p := printer{out: os.Stdout, boards: *boards, steps: *steps}
	for {
		ev, err := c.Next()
		if err != nil {
			if stream.IsClosed(err) || ctx.Err() != nil {
				return
			}
			logger.Error("stream ended", "error", err)
			os.Exit(1)
		}
		p.print(ev)
	}
}

type printer struct {
	out    io.Writer
	boards bool
	steps  bool
}

func (p printer) print(ev stream.Event) {
	switch ev.Type {
	case stream.TypeDecision:
		fmt.Fprintf(p.out, "%s decision %d: %s\n", ev.EpisodeID, ev.Decision.Index, ev.Decision.Summary)
	case stream.TypeStep:
		s := ev.Step
		if p.steps || s.Terminal {
			name := "?"
			if s.Action >= 0 && s.Action < len(game.MoveNames) {
				name = game.MoveNames[s.Action]
			}
			fmt.Fprintf(p.out, "%s step %d: %s reward %g score %g lives %d\n", ev.EpisodeID, s.Index, name, s.Reward, s.Score, s.Lives)
		}
		if p.boards && s.Board != "" {
			fmt.Fprintln(p.out, s.Board)
		}
	case stream.TypeEpisode:
		e := ev.Episode
		fmt.Fprintf(p.out, "%s finished: score %g steps %d decisions %d terminal %t aborted %t (%.1fms)\n",
			ev.EpisodeID, e.Score, e.Steps, e.Decisions, e.Terminal, e.Aborted, e.Millis)
	}
}
