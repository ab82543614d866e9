package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/config"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/guard"
	"github.com/ManuPunk16/CG-Front-sub000/internal/httpapi"
	"github.com/ManuPunk16/CG-Front-sub000/internal/inactivity"
	"github.com/ManuPunk16/CG-Front-sub000/internal/interceptor"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/session"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logr("portal")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	fs := pflag.NewFlagSet("portal", pflag.ExitOnError)
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])
	if err := cfg.ApplyFlags(fs); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := tokencache.Open(ctx, cfg.CacheOptions())
	if err != nil {
		log.Fatalf("token cache: %v", err)
	}
	defer func() { _ = cache.Close() }()

	jar, _ := cookiejar.New(nil)
	gw, err := gateway.New(cfg.APIBaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout, Jar: jar}),
		gateway.WithAuthHeader(cfg.AuthHeader, cfg.AuthScheme))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	nav := route.NewRecorder()
	store := session.NewStore(ctx, cache, session.WithStoreLogger(logger.WithName("session")))
	mgr := session.NewManager(store, cache, gw,
		session.WithNavigator(nav),
		session.WithLoginPath(cfg.LoginPath),
		session.WithManagerLogger(logger.WithName("session")))

	resolver := auth.NewResolver(cfg.HierarchyOrDefault(), auth.WithResolverLogger(logger.WithName("auth")))
	monitor := inactivity.New(cfg.MonitorConfig(), mgr.EndForInactivity,
		inactivity.WithLogger(logger.WithName("inactivity")),
		inactivity.OnWarning(func(remaining time.Duration) {
			logger.Info("inactivity warning raised", "remaining", remaining.String())
		}))
	transport := interceptor.New(cache, mgr,
		interceptor.WithAuthHeader(cfg.AuthHeader, cfg.AuthScheme),
		interceptor.WithLogger(logger.WithName("interceptor")))

	api := httpapi.New(httpapi.Deps{
		Manager:     mgr,
		Guard:       guard.New(store, cache, guard.WithLoginPath(cfg.LoginPath), guard.WithLogger(logger.WithName("guard"))),
		Areas:       guard.NewAreaGuard(store, resolver, cfg.DefaultPath, logger.WithName("guard")),
		Resolver:    resolver,
		Monitor:     monitor,
		Navigator:   nav,
		Backend:     gw.BaseURL(),
		Transport:   transport,
		RouteAreas:  cfg.RouteAreaMap(),
		DefaultPath: cfg.DefaultPath,
		Version:     version,
		Log:         logger.WithName("httpapi"),
	})
	go api.TrackSession(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting console", "version", version, "addr", srv.Addr, "api", cfg.APIBaseURL, "cache", cfg.Cache.Backend)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
