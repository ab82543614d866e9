// Command cgctl drives a Control de Gestión session from the terminal:
// it logs in, keeps the tokens in a local (optionally sealed) cache and
// answers area and permission questions for the cached user.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/config"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/interceptor"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/session"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

const usageText = `usage: cgctl [flags] <command> [args]

commands:
  login [--username NAME]   log in (password from CG_PASSWORD or stdin)
  logout                    end the session
  status [--validate]       show the cached session
  areas                     list the areas the session may act on
  access <area>             check access to an area
  can <action>              check a permission (create, edit, delete, export)
  get <path>                GET an API path with the session token
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli holds the wired session for one invocation.
type cli struct {
	cfg      config.Config
	cache    *tokencache.Opened
	store    *session.Store
	mgr      *session.Manager
	gw       *gateway.Client
	resolver *auth.Resolver
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	fs := pflag.NewFlagSet("cgctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usageText) }
	fs.SetInterspersed(false)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	// A terminal session must outlive the process.
	if cfg.Cache.Backend == "" || cfg.Cache.Backend == tokencache.BackendMemory {
		cfg.Cache.Backend = tokencache.BackendFile
	}

	c, err := wire(ctx, cfg, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = c.cache.Close() }()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "login":
		err = c.login(ctx, rest)
	case "logout":
		err = c.mgr.Logout(ctx)
		if err == nil {
			fmt.Fprintln(stdout, "logged out")
		}
	case "status":
		err = c.status(ctx, rest)
	case "areas":
		err = c.areas()
	case "access":
		err = c.access(rest)
	case "can":
		err = c.can(rest)
	case "get":
		err = c.get(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func wire(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) (*cli, error) {
	logger := obs.Logr("cgctl")
	cache, err := tokencache.Open(ctx, cfg.CacheOptions())
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	jar, _ := cookiejar.New(nil)
	gw, err := gateway.New(cfg.APIBaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout, Jar: jar}),
		gateway.WithAuthHeader(cfg.AuthHeader, cfg.AuthScheme))
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	nav := route.NavigatorFunc(func(_ context.Context, path string) {
		if strings.Contains(path, route.ReasonParam+"=") {
			fmt.Fprintf(stderr, "session ended (%s); run cgctl login\n", path)
		}
	})
	store := session.NewStore(ctx, cache, session.WithStoreLogger(logger.WithName("session")))
	mgr := session.NewManager(store, cache, gw,
		session.WithNavigator(nav),
		session.WithLoginPath(cfg.LoginPath),
		session.WithManagerLogger(logger.WithName("session")))
	return &cli{
		cfg:      cfg,
		cache:    cache,
		store:    store,
		mgr:      mgr,
		gw:       gw,
		resolver: auth.NewResolver(cfg.HierarchyOrDefault(), auth.WithResolverLogger(logger.WithName("auth"))),
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	username := fs.String("username", os.Getenv("CG_USERNAME"), "user name (env CG_USERNAME)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	in := bufio.NewReader(c.stdin)
	if *username == "" {
		fmt.Fprint(c.stderr, "usuario: ")
		*username = readLine(in)
	}
	password := os.Getenv("CG_PASSWORD")
	if password == "" {
		fmt.Fprint(c.stderr, "contraseña: ")
		password = readLine(in)
	}
	user, err := c.mgr.Login(ctx, *username, password)
	if err != nil {
		if msg := gateway.MessageOf(err); gateway.StatusOf(err) != 0 && msg != "" {
			return errors.New(msg)
		}
		return err
	}
	fmt.Fprintf(c.stdout, "logged in as %s (%s, %s)\n", user.Username, user.Role, user.Area)
	return nil
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func (c *cli) status(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	validate := fs.Bool("validate", false, "ask the server whether the token is still accepted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	out := map[string]any{"authenticated": c.store.IsAuthenticated(ctx)}
	if u := c.store.CurrentUser(); u != nil {
		out["user"] = u
		out["permissions"] = c.resolver.Permissions(u.Role)
	}
	if *validate && out["authenticated"] == true {
		ok, err := c.mgr.Validate(ctx)
		if err != nil {
			return err
		}
		out["valid"] = ok
		out["authenticated"] = c.store.IsAuthenticated(ctx)
	}
	return printJSON(c.stdout, out)
}

func (c *cli) currentUser() (*auth.User, error) {
	u := c.store.CurrentUser()
	if u == nil || !c.store.Snapshot().Authenticated {
		return nil, session.ErrNotAuthenticated
	}
	return u, nil
}

func (c *cli) areas() error {
	u, err := c.currentUser()
	if err != nil {
		return err
	}
	set := c.resolver.AllowedAreasFor(u)
	if set.IsAll() {
		fmt.Fprintln(c.stdout, "* (todas las áreas)")
		return nil
	}
	for _, a := range set.List() {
		fmt.Fprintln(c.stdout, a)
	}
	return nil
}

var errDenied = errors.New("denied")

func (c *cli) access(args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one area")
	}
	u, err := c.currentUser()
	if err != nil {
		return err
	}
	if !c.resolver.HasAccessFor(u, auth.Area(args[0])) {
		return errDenied
	}
	fmt.Fprintln(c.stdout, "allowed")
	return nil
}

func (c *cli) can(args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one action")
	}
	u, err := c.currentUser()
	if err != nil {
		return err
	}
	action := auth.ParseAction(args[0])
	if !c.resolver.HasPermission(u.Role, action) {
		return errDenied
	}
	fmt.Fprintln(c.stdout, "allowed")
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one path")
	}
	if _, err := c.currentUser(); err != nil {
		return err
	}
	t := interceptor.New(c.cache, c.mgr, interceptor.WithAuthHeader(c.cfg.AuthHeader, c.cfg.AuthScheme))
	target := c.gw.BaseURL().JoinPath(strings.TrimPrefix(args[0], "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.Client(c.cfg.HTTPTimeout).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := interceptor.ErrorFromResponse(resp); err != nil {
		return err
	}
	_, err = io.Copy(c.stdout, resp.Body)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
