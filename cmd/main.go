package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/auth"
	"github.com/madebynoam/canvai-sub001/internal/comments"
	"github.com/madebynoam/canvai-sub001/internal/config"
	"github.com/madebynoam/canvai-sub001/internal/events"
	"github.com/madebynoam/canvai-sub001/internal/github"
	"github.com/madebynoam/canvai-sub001/internal/server"
	"github.com/madebynoam/canvai-sub001/internal/webhook"
)

var (
	loadDotEnv         = godotenv.Load
	loadConfig         = config.Load
	defaultListenServe = listenAndServe
)

type options struct {
	ConfigPath string
	Login      bool
	Out        io.Writer
}

func main() {
	flags := pflag.NewFlagSet("canvai-relay", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "path to canvai.toml (default $CANVAI_CONFIG or ./canvai.toml)")
	login := flags.Bool("login", false, "sign in with GitHub in this terminal and exit")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{ConfigPath: *configPath, Login: *login, Out: os.Stdout}
	if err := run(ctx, opts, defaultListenServe); err != nil {
		log.Fatal().Err(err).Msg("relay failed")
	}
}

func run(ctx context.Context, opts options, serve func(context.Context, string, http.Handler) error) error {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg)

	credentials := auth.NewStore(cfg.CredentialsDir, cfg.Repo)
	var flow *auth.Flow
	if cfg.DeviceFlowEnabled() {
		flow = auth.NewFlow(auth.Config{
			ClientID:      cfg.GitHub.ClientID,
			Scopes:        cfg.GitHub.Scopes,
			DeviceCodeURL: cfg.GitHub.DeviceCodeURL,
			TokenURL:      cfg.GitHub.TokenURL,
			APIURL:        cfg.GitHub.APIURL,
		}, credentials)
	}

	if opts.Login {
		if flow == nil {
			return errors.New("--login needs github.client_id")
		}
		return login(ctx, flow, opts.Out)
	}

	broker := events.NewBroker(64)
	defer broker.Close()
	detector := annotation.NewDetector(broker, cfg.WatchGrace)
	defer detector.Stop()
	queue := annotation.NewQueue(broker, detector)

	srvOpts := server.Options{
		Queue:    queue,
		Detector: detector,
		Broker:   broker,
		Identity: credentials,
	}
	if flow != nil {
		srvOpts.Flow = flow
	}

	if cfg.CommentsEnabled() {
		store, err := newCommentStore(cfg, credentials, broker)
		if err != nil {
			return err
		}
		srvOpts.Threads = store
		if cfg.GitHub.WebhookSecret != "" {
			srvOpts.Webhook = webhook.NewHandler(cfg.GitHub.WebhookSecret, store)
		}
	}

	logger := log.With().Str("component", "main").Logger()
	logger.Info().
		Int("port", cfg.Port).
		Str("repo", cfg.Repo).
		Bool("sign_in", flow != nil).
		Bool("github_app", cfg.AppEnabled()).
		Bool("webhooks", srvOpts.Webhook != nil).
		Dur("watch_grace", cfg.WatchGrace).
		Str("credentials", credentials.Path()).
		Msg("starting canvai relay")

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info().Msgf("Annotations: http://localhost%s/annotations", addr)
	logger.Info().Msgf("Health check: http://localhost%s/health", addr)

	if err := serve(ctx, addr, server.New(srvOpts).Handler()); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

func newCommentStore(cfg *config.Config, credentials *auth.Store, broker *events.Broker) (*comments.Store, error) {
	repo, err := github.ParseRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}
	clients := &github.Clients{
		Repo:        repo,
		BaseURL:     cfg.GitHub.APIURL,
		Credentials: credentials,
	}
	if cfg.AppEnabled() {
		clients.App = &github.AppAuth{
			AppID:      cfg.GitHub.AppID,
			PrivateKey: cfg.GitHub.PrivateKey,
			BaseURL:    cfg.GitHub.APIURL,
		}
	}
	if rps := cfg.GitHub.RequestsPerSecond; rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		clients.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return comments.NewStore(clients, repo, comments.Options{
		Label:          cfg.Label,
		TitlePrefix:    cfg.TitlePrefix,
		MaxConcurrency: int64(cfg.GitHub.MaxConcurrency),
	}, broker), nil
}

// login runs the device flow in the terminal.
func login(ctx context.Context, flow *auth.Flow, out io.Writer) error {
	sess, err := flow.Initiate(ctx)
	if err != nil {
		return fmt.Errorf("request device code: %w", err)
	}
	fmt.Fprintf(out, "Open %s and enter the code %s\n", sess.VerificationURI, sess.UserCode)

	user, err := auth.Await(ctx, flow, sess)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	fmt.Fprintf(out, "Signed in as %s\n", user.Login)
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// listenAndServe serves until ctx ends, then drains in-flight requests.
// Long polls and event streams end with their request contexts.
func listenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
