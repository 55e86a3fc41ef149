// Command apphub is a CLI client for the AppHub conversational service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vkarpenko/apphub-cli/internal/api"
	"github.com/vkarpenko/apphub-cli/internal/chat"
	"github.com/vkarpenko/apphub-cli/internal/config"
	"github.com/vkarpenko/apphub-cli/internal/detector"
	"github.com/vkarpenko/apphub-cli/internal/gateway"
	"github.com/vkarpenko/apphub-cli/internal/session"
	"github.com/vkarpenko/apphub-cli/internal/tokenstore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `apphub CLI
Usage:
  apphub [-base-url URL] <cmd> [args]

Commands:
  version
  signup     -email <email> -password <pw> [-name <full name>]
  login      -email <email> -password <pw>
  logout
  whoami
  passwd     -current <pw> -new <pw>
  chats      [-page N] [-archived]
  history    -id <conversation id>
  send       -m <message> [-id <conversation id>] [-yes]
  new        [-title <title>]
  rm         -id <conversation id>
  archive    -id <conversation id>
`)
	os.Exit(2)
}

// app bundles the wired components for one CLI invocation.
type app struct {
	session  *session.Manager
	pipeline *chat.Pipeline
}

func build(baseURL string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	log := zap.NewNop()
	if cfg.Debug {
		log, _ = zap.NewDevelopment()
	}

	tokens := tokenstore.New(tokenstore.NewVault(cfg.ConfigDir), log)
	gw, err := gateway.New(cfg.BaseURL, tokens, &http.Client{Timeout: cfg.Timeout}, log)
	if err != nil {
		return nil, err
	}
	cli := api.New(gw)
	sess := session.NewManager(cli, tokens, log)
	gw.OnSessionInvalid(sess.Invalidate)
	pipe := chat.NewPipeline(cli, detector.New(), log)
	return &app{session: sess, pipeline: pipe}, nil
}

func main() {
	baseURL := flag.String("base-url", "", "API base URL (overrides APPHUB_BASE_URL)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("apphub %s (%s)\n", version, buildDate)
		return
	}

	a, err := build(*baseURL)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cmd {

	case "signup":
		fs := flag.NewFlagSet("signup", flag.ExitOnError)
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		name := fs.String("name", "", "full name")
		_ = fs.Parse(flag.Args()[1:])

		u, err := a.session.Signup(ctx, *email, *password, *name)
		if err != nil {
			fail(err)
		}
		fmt.Printf("registered and signed in as %s\n", u.Email)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email")
		password := fs.String("password", "", "password")
		_ = fs.Parse(flag.Args()[1:])

		u, err := a.session.Login(ctx, *email, *password)
		if err != nil {
			fail(err)
		}
		fmt.Printf("signed in as %s (%s)\n", u.Email, u.Role)

	case "logout":
		mustBootstrap(ctx, a)
		a.session.Logout(ctx)
		fmt.Println("signed out")

	case "whoami":
		mustBootstrap(ctx, a)
		u := a.session.User()
		if u == nil {
			fail(fmt.Errorf("not signed in"))
		}
		printJSON(map[string]any{
			"id":        u.ID,
			"email":     u.Email,
			"full_name": u.FullName,
			"role":      u.Role,
			"admin":     a.session.IsAdmin(),
			"developer": a.session.IsDeveloper(),
		})

	case "passwd":
		fs := flag.NewFlagSet("passwd", flag.ExitOnError)
		current := fs.String("current", "", "current password")
		next := fs.String("new", "", "new password")
		_ = fs.Parse(flag.Args()[1:])

		mustBootstrap(ctx, a)
		if err := a.session.ChangePassword(ctx, *current, *next); err != nil {
			fail(err)
		}
		fmt.Println("password changed")

	case "chats":
		fs := flag.NewFlagSet("chats", flag.ExitOnError)
		page := fs.Int("page", 1, "page")
		archived := fs.Bool("archived", false, "include archived")
		_ = fs.Parse(flag.Args()[1:])

		mustBootstrap(ctx, a)
		res, err := a.pipeline.Conversations(ctx, *page, 20, *archived)
		if err != nil {
			fail(err)
		}
		type row struct {
			ID, Title, UpdatedAt string
			Messages             int
			Archived             bool
		}
		rows := make([]row, 0, len(res.Conversations))
		for _, c := range res.Conversations {
			rows = append(rows, row{
				ID:        c.ID,
				Title:     c.Title,
				UpdatedAt: c.UpdatedAt.Local().Format(time.RFC3339),
				Messages:  c.MessageCount,
				Archived:  c.IsArchived,
			})
		}
		printJSON(map[string]any{"conversations": rows, "page": res.Page, "pages": res.Pages, "total": res.Total})

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		id := fs.String("id", "", "conversation id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		mustBootstrap(ctx, a)
		if err := a.pipeline.Open(ctx, *id); err != nil {
			fail(err)
		}
		for _, m := range a.pipeline.Transcript() {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		msg := fs.String("m", "", "message text")
		id := fs.String("id", "", "conversation id (empty starts a new one)")
		yes := fs.Bool("yes", false, "send original without the sensitive-content prompt")
		_ = fs.Parse(flag.Args()[1:])
		if *msg == "" {
			fmt.Fprintln(os.Stderr, "need -m")
			os.Exit(1)
		}

		mustBootstrap(ctx, a)
		if *id != "" {
			if err := a.pipeline.Open(ctx, *id); err != nil {
				fail(err)
			}
		}
		if err := runSend(ctx, a.pipeline, *msg, *yes, os.Stdin, os.Stdout); err != nil {
			fail(err)
		}

	case "new":
		fs := flag.NewFlagSet("new", flag.ExitOnError)
		title := fs.String("title", "", "create the conversation now, with this title")
		_ = fs.Parse(flag.Args()[1:])

		if *title == "" {
			a.pipeline.NewConversation()
			fmt.Println("started a new conversation; the next send creates it server-side")
			break
		}
		mustBootstrap(ctx, a)
		conv, err := a.pipeline.Create(ctx, *title)
		if err != nil {
			fail(err)
		}
		fmt.Printf("created conversation %s\n", conv.ID)

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.String("id", "", "conversation id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		mustBootstrap(ctx, a)
		if err := a.pipeline.Delete(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("deleted")

	case "archive":
		fs := flag.NewFlagSet("archive", flag.ExitOnError)
		id := fs.String("id", "", "conversation id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		mustBootstrap(ctx, a)
		if err := a.pipeline.Archive(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("archived")

	default:
		usage()
	}
}

// mustBootstrap restores the session or exits with a login hint.
func mustBootstrap(ctx context.Context, a *app) {
	if err := a.session.Bootstrap(ctx); err != nil {
		fail(fmt.Errorf("session expired, log in again: %w", err))
	}
	if a.session.Status() != session.StatusAuthenticated {
		fail(fmt.Errorf("not signed in (run: apphub login)"))
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
