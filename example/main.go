// Command example follows the builds of a build server: it lists
// repositories, then prints build updates, switching pages on commands read
// from stdin ("repos", "repo <name>", "quit").
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/marrasen/sherpa"
	"github.com/marrasen/sherpa/lifecycle"
)

const usage = `Follow builds.

Usage:
    example [--password=<password>] <baseurl> <eventsurl>

Options:
    -h --help                Show this screen.
    --password=<password>    Credential for the API.`

// app holds the streams events are delivered on, so pages can subscribe.
type app struct {
	session     *sherpa.Session
	repos       *lifecycle.Stream[EventRepo]
	removeRepo  *lifecycle.Stream[EventRemoveRepo]
	builds      *lifecycle.Stream[EventBuild]
	removeBuild *lifecycle.Stream[EventRemoveBuild]
	output      *lifecycle.Stream[EventOutput]
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		log.Fatal(err)
	}
	baseURL, _ := opts.String("<baseurl>")
	eventsURL, _ := opts.String("<eventsurl>")
	password, _ := opts.String("--password")

	types, err := sherpa.TypesFromGo(
		EventRepo{}, EventRemoveRepo{}, EventBuild{}, EventRemoveBuild{}, EventOutput{},
		sherpa.EnumValues(StatusNew, StatusClone, StatusBuild, StatusSuccess, StatusCancelled),
	)
	if err != nil {
		log.Fatalf("Failed to derive types: %v", err)
	}
	registry := sherpa.MustNewRegistry(types...)

	client := sherpa.NewClient(registry, sherpa.Options{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
		Interceptor: sherpa.InterceptorFuncs{
			Before: func() { fmt.Fprint(os.Stderr, "...\r") },
			After:  func(err error) { fmt.Fprint(os.Stderr, "   \r") },
		},
		OnError: func(err error) { fmt.Fprintf(os.Stderr, "error: %v\n", err) },
	}).WithAuthToken(password)

	a := &app{
		repos:       lifecycle.NewStream[EventRepo](),
		removeRepo:  lifecycle.NewStream[EventRemoveRepo](),
		builds:      lifecycle.NewStream[EventBuild](),
		removeBuild: lifecycle.NewStream[EventRemoveBuild](),
		output:      lifecycle.NewStream[EventOutput](),
	}
	events := sherpa.NewEvents(registry)
	for _, err := range []error{
		sherpa.Bind(events, "repo", "EventRepo", a.repos),
		sherpa.Bind(events, "removeRepo", "EventRemoveRepo", a.removeRepo),
		sherpa.Bind(events, "build", "EventBuild", a.builds),
		sherpa.Bind(events, "removeBuild", "EventRemoveBuild", a.removeBuild),
		sherpa.Bind(events, "output", "EventOutput", a.output),
	} {
		if err != nil {
			log.Fatalf("Failed to bind event: %v", err)
		}
	}
	push := sherpa.NewEventSource(events, client.Auth(), nil, sherpa.PushOptions{
		URL: eventsURL,
		OnStatus: func(status sherpa.PushStatus, err error) {
			if status == sherpa.PushFailed {
				fmt.Fprintf(os.Stderr, "event stream failed: %v; type \"reconnect\" to retry\n", err)
			}
		},
	})
	a.session = sherpa.NewSession(client, events, push)
	defer a.session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var nav lifecycle.Navigator
	defer nav.Close()
	if err := nav.Show(func(p *lifecycle.Page) error { return a.reposPage(ctx, p) }); err != nil {
		log.Fatalf("Failed to load repositories: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		var err error
		switch cmd {
		case "repos":
			err = nav.Show(func(p *lifecycle.Page) error { return a.reposPage(ctx, p) })
		case "repo":
			err = nav.Show(func(p *lifecycle.Page) error { return a.repoPage(ctx, p, arg) })
		case "reconnect":
			push.Reconnect()
		case "quit":
			return
		default:
			fmt.Println(`commands: repos, repo <name>, reconnect, quit`)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (a *app) listRepos(ctx context.Context) ([]Repo, error) {
	return sherpa.AuthedValue(ctx, a.session, func(ctx context.Context) ([]Repo, error) {
		r, err := a.session.Client().Call(ctx, "Repos", nil, nil, []sherpa.TypeWords{
			sherpa.MustParseTypeWords("[]", "Repo"),
		})
		if err != nil {
			return nil, err
		}
		return sherpa.As[[]Repo](r)
	})
}

func (a *app) reposPage(ctx context.Context, p *lifecycle.Page) error {
	repos, err := a.listRepos(ctx)
	if err != nil {
		return err
	}
	fmt.Println("repositories:")
	for _, r := range repos {
		fmt.Printf("  %s\t%s\n", r.Name, r.Origin)
	}

	lifecycle.Subscribe(p, a.repos, func(e EventRepo) {
		fmt.Printf("repo %s updated\n", e.Repo.Name)
	})
	lifecycle.Subscribe(p, a.removeRepo, func(e EventRemoveRepo) {
		fmt.Printf("repo %s removed\n", e.RepoName)
	})
	lifecycle.Subscribe(p, a.builds, func(e EventBuild) {
		fmt.Printf("%s: build %d %s\n", e.RepoName, e.Build.ID, e.Build.Status)
	})
	return nil
}

func (a *app) repoPage(ctx context.Context, p *lifecycle.Page, name string) error {
	if name == "" {
		return fmt.Errorf("missing repository name")
	}
	r, err := sherpa.AuthedValue(ctx, a.session, func(ctx context.Context) (any, error) {
		return a.session.Client().Call(ctx, "RepoBuilds", []any{name}, []sherpa.TypeWords{{sherpa.String}}, []sherpa.TypeWords{
			sherpa.MustParseTypeWords("[]", "Build"),
		})
	})
	if err != nil {
		return err
	}
	builds, err := sherpa.As[[]Build](r)
	if err != nil {
		return err
	}

	mine := map[int32]bool{}
	fmt.Printf("builds of %s:\n", name)
	for _, b := range builds {
		mine[b.ID] = true
		fmt.Printf("  %d\t%s\t%s\t%s\n", b.ID, b.Branch, b.Status, b.Created.Format(time.DateTime))
	}

	lifecycle.Subscribe(p, a.builds, func(e EventBuild) {
		if e.RepoName != name {
			return
		}
		mine[e.Build.ID] = true
		fmt.Printf("build %d %s\n", e.Build.ID, e.Build.Status)
	})
	lifecycle.Subscribe(p, a.removeBuild, func(e EventRemoveBuild) {
		if e.RepoName == name {
			delete(mine, e.BuildID)
			fmt.Printf("build %d removed\n", e.BuildID)
		}
	})
	lifecycle.Subscribe(p, a.output, func(e EventOutput) {
		if mine[e.BuildID] {
			fmt.Printf("[%d %s %s] %s", e.BuildID, e.Step, e.Where, e.Text)
		}
	})
	start := time.Now()
	p.Tick(time.Minute, func() {
		fmt.Printf("watching %s for %s\n", name, time.Since(start).Round(time.Minute))
	})
	return nil
}
