// askctl drives one question/answer turn through a running relay and prints
// the answer to stdout as it arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/askwise/askrelay/internal/domain"
	"github.com/askwise/askrelay/pkg/askclient"
)

func main() {
	base := flag.String("base", "http://localhost:8080", "relay base URL")
	thread := flag.String("thread", "", "conversation thread id")
	user := flag.String("user", "", "user id attached to the turn")
	stream := flag.Bool("stream", true, "use the streaming endpoint")
	timeout := flag.Duration("timeout", 45*time.Second, "per-turn timeout")
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: askctl [flags] <question>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	client := askclient.New(*base, askclient.WithTurnTimeout(*timeout))
	req := domain.QueryRequest{
		Question: question,
		ThreadID: *thread,
		UserID:   *user,
	}

	ctx := context.Background()
	var events <-chan domain.StreamEvent
	if *stream {
		events = client.AskStream(ctx, req)
	} else {
		events = client.Ask(ctx, req)
	}

	for ev := range events {
		if ev.Text != "" {
			fmt.Print(ev.Text)
		}
		if !ev.Done {
			continue
		}
		fmt.Println()
		if ev.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Err.Message)
			if ev.Err.CorrID != "" {
				fmt.Fprintf(os.Stderr, "correlation id: %s\n", ev.Err.CorrID)
			}
			os.Exit(1)
		}
	}
}
