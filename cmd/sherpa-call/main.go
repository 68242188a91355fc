package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/term"

	"github.com/marrasen/sherpa"
	"github.com/marrasen/sherpa/lifecycle"
)

const version = "0.1.0"

const usage = `Call functions of a sherpa API.

The schema is fetched from the API through its "_docs" function unless
--schema is given. Parameters are JSON values, one per argument.

Usage:
    sherpa-call functions [options] <baseurl>
    sherpa-call call [options] <baseurl> <function> [<param>...]
    sherpa-call follow [options] <baseurl> <eventsurl> <binding>...

A binding is <event>=<type>, e.g. build=Build, and delivers events named
<event> verified as named type <type>.

Options:
    -h --help                Show this screen.
    --version                Show version.
    --schema=<file>          Load the schema from a sherpadoc JSON file.
    --token=<token>          Initial credential.
    --login                  Prompt for a password on credential errors.
    --timeout=<duration>     Call timeout [default: 30s].
    --csrf-header=<header>   Send the credential in this request header.
    --websocket              Follow events over a WebSocket instead of an event stream.
    --credential-param=<p>   Query parameter for the credential [default: password].
    --skip-checks            Do not verify parameters and results.
    --verbose                Log calls.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "sherpa-call: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts docopt.Opts) error {
	level := slog.LevelWarn
	if verbose, _ := opts.Bool("--verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := newClient(ctx, opts, logger)
	if err != nil {
		return err
	}

	switch {
	case isSet(opts, "functions"):
		for _, name := range client.Registry().Functions() {
			f, _ := client.Registry().Function(name)
			fmt.Println(signature(f))
		}
		return nil
	case isSet(opts, "call"):
		return call(ctx, client, opts)
	case isSet(opts, "follow"):
		return follow(ctx, client, opts, logger)
	}
	return nil
}

func isSet(opts docopt.Opts, key string) bool {
	b, _ := opts.Bool(key)
	return b
}

func newClient(ctx context.Context, opts docopt.Opts, logger *slog.Logger) (*sherpa.Client, error) {
	baseURL, _ := opts.String("<baseurl>")
	timeout := 30 * time.Second
	if s, _ := opts.String("--timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout: %w", err)
		}
		timeout = d
	}
	csrf, _ := opts.String("--csrf-header")

	options := sherpa.Options{
		BaseURL:         baseURL,
		Timeout:         timeout,
		CSRFHeader:      csrf,
		SkipParamCheck:  isSet(opts, "--skip-checks"),
		SkipReturnCheck: isSet(opts, "--skip-checks"),
		Logger:          logger,
	}
	if isSet(opts, "--login") {
		options.Login = promptPassword
	}

	var registry *sherpa.Registry
	if path, _ := opts.String("--schema"); path != "" {
		r, err := sherpa.LoadRegistryFile(path)
		if err != nil {
			return nil, err
		}
		registry = r
	}
	client := sherpa.NewClient(registry, options)
	if token, _ := opts.String("--token"); token != "" {
		client.Auth().SetToken(token)
	}
	client.Use(sherpa.LogCalls())

	if registry == nil {
		schema, err := client.FetchSchema(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching schema: %w", err)
		}
		registry, err = schema.Registry()
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		c := sherpa.NewClient(registry, options)
		c.Auth().SetToken(client.Auth().Token())
		c.Use(sherpa.LogCalls())
		client = c
	}
	return client, nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(ctx context.Context, prevError string) (string, error) {
	if prevError != "" {
		fmt.Fprintf(os.Stderr, "%s\n", prevError)
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func signature(f *sherpa.Function) string {
	var params, returns []string
	for _, p := range f.Params {
		params = append(params, p.Name+" "+p.Typewords.String())
	}
	for _, p := range f.Returns {
		returns = append(returns, p.Typewords.String())
	}
	s := fmt.Sprintf("%s(%s)", f.Name, strings.Join(params, ", "))
	if len(returns) > 0 {
		s += " " + strings.Join(returns, ", ")
	}
	return s
}

func call(ctx context.Context, client *sherpa.Client, opts docopt.Opts) error {
	fn, _ := opts.String("<function>")
	args, _ := opts["<param>"].([]string)
	params := make([]any, len(args))
	for i, arg := range args {
		if err := json.Unmarshal([]byte(arg), &params[i]); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	result, err := client.CallFunc(ctx, fn, params...)
	if err != nil {
		return err
	}
	out, err := json.Marshal(result, jsontext.WithIndent("  "))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func follow(ctx context.Context, client *sherpa.Client, opts docopt.Opts, logger *slog.Logger) error {
	eventsURL, _ := opts.String("<eventsurl>")
	bindings, _ := opts["<binding>"].([]string)
	param, _ := opts.String("--credential-param")

	events := sherpa.NewEvents(client.Registry())
	page := lifecycle.NewPage()
	defer page.Cleanup()
	for _, b := range bindings {
		event, typeName, ok := strings.Cut(b, "=")
		if !ok {
			return fmt.Errorf("bad binding %q, expected <event>=<type>", b)
		}
		stream := lifecycle.NewStream[any]()
		if err := sherpa.Bind(events, event, typeName, stream); err != nil {
			return err
		}
		lifecycle.Subscribe(page, stream, func(v any) {
			data, err := json.Marshal(v)
			if err != nil {
				logger.Error("encoding event", "event", event, "err", err)
				return
			}
			fmt.Printf("%s %s\n", event, data)
		})
	}

	failed := make(chan error, 1)
	pushOpts := sherpa.PushOptions{
		URL:             eventsURL,
		CredentialParam: param,
		Logger:          logger,
		OnStatus: func(status sherpa.PushStatus, err error) {
			logger.Info("push status", "status", status, "err", err)
			if status == sherpa.PushFailed {
				select {
				case failed <- err:
				default:
				}
			}
		},
	}
	var push sherpa.Pusher
	if isSet(opts, "--websocket") {
		push = sherpa.NewWSEventSource(events, client.Auth(), nil, pushOpts)
	} else {
		push = sherpa.NewEventSource(events, client.Auth(), nil, pushOpts)
	}
	session := sherpa.NewSession(client, events, push)
	defer session.Close()

	// A successful authenticated call confirms the credential before the
	// event stream is opened.
	err := session.Authed(ctx, func(ctx context.Context) error {
		_, err := client.FetchSchema(ctx)
		return err
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return fmt.Errorf("connecting to event stream: %w", err)
	}
}
