package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/soapbox-pub/soapbox-sub000/stream"
)

const StreamCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Stream control.

Tails a live streaming topic and inspects read markers against a backend.
If --token is omitted, the access token is read from the terminal without
echo.

Usage:
    streamctl tail --url=<url> --topic=<topic> [--token=<token>]
        [--duration=<seconds>]
    streamctl marker --url=<url> [--token=<token>]
        [--timeline=<timeline>]
        [--set=<last_read_id>]

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --url=<url>               Backend base url, e.g. https://example.social
    --topic=<topic>           Stream topic, e.g. user, public
    --token=<token>           Access token.
    --duration=<seconds>      Tail for a fixed duration instead of forever.
    --timeline=<timeline>     Marker timeline [default: notifications].
    --set=<last_read_id>      Push a marker instead of reading it.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], StreamCtlVersion)
	if err != nil {
		panic(err)
	}

	if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if marker_, _ := opts.Bool("marker"); marker_ {
		marker(opts)
	}
}

func accessToken(opts docopt.Opts) string {
	if token, err := opts.String("--token"); err == nil && token != "" {
		return token
	}
	fmt.Fprint(os.Stderr, "access token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("could not read token: %s", err)
	}
	return string(tokenBytes)
}

func tail(opts docopt.Opts) {
	url, _ := opts.String("--url")
	topic, _ := opts.String("--topic")
	token := accessToken(opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if seconds, err := opts.Int("--duration"); err == nil && 0 < seconds {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer timeoutCancel()
	}

	router := stream.NewEventRouter()
	for _, kind := range []string{
		"update",
		"status.update",
		"delete",
		"notification",
		"marker",
		"pleroma:follow_relationships_update",
		"pleroma:chat_update",
		"announcement",
		"announcement.reaction",
		"announcement.delete",
	} {
		kind := kind
		router.Register(kind, func(envelope *stream.EventEnvelope) {
			Out.Printf("%s %s", kind, string(envelope.Payload))
		})
	}

	session, err := stream.OpenStreamSession(
		ctx,
		url,
		topic,
		&stream.SessionAuth{
			AccessToken: token,
		},
		router.Dispatch,
		stream.DefaultStreamSessionSettings(),
	)
	if err != nil {
		Err.Fatalf("could not open stream: %s", err)
	}
	defer session.Close()

	session.AddConnectCallback(func() {
		Err.Printf("connected topic=%s", topic)
	})
	session.AddDisconnectCallback(func() {
		Err.Printf("disconnected topic=%s", topic)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
}

func marker(opts docopt.Opts) {
	url, _ := opts.String("--url")
	timeline, _ := opts.String("--timeline")
	token := accessToken(opts)

	api := stream.NewApi(url, token)
	defer api.Close()

	if lastReadId, err := opts.String("--set"); err == nil && lastReadId != "" {
		result, err := api.SaveMarkerSync(timeline, lastReadId)
		if err != nil {
			Err.Fatalf("save marker error: %s", err)
		}
		for timeline, marker := range result {
			Out.Printf("%s last_read_id=%s", timeline, marker.LastReadId)
		}
		return
	}

	result, err := api.GetMarkerSync(timeline)
	if err != nil {
		Err.Fatalf("get marker error: %s", err)
	}
	if len(result) == 0 {
		Out.Printf("no marker for %s", timeline)
		return
	}
	for timeline, marker := range result {
		Out.Printf("%s last_read_id=%s", timeline, marker.LastReadId)
	}
}
