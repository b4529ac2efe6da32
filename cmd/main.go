package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/errgroup"

	"voice-booking/handler"
	"voice-booking/internal/callstate"
	"voice-booking/internal/clock"
	"voice-booking/internal/holds"
	"voice-booking/internal/integrations/calendar"
	"voice-booking/internal/integrations/paramstore"
	"voice-booking/internal/metrics"
	"voice-booking/internal/repository"
	"voice-booking/internal/timeslot"
	"voice-booking/internal/usecase"
)

// sharedStore backs both call state and slot holds.
type sharedStore interface {
	callstate.Store
	holds.Store
	Connect(ctx context.Context) error
	Close() error
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg := loadConfig()
	clk := clock.NewSystem()
	recorder := metrics.New(metrics.DefaultConfig())

	// ---- AWS SDK config ----
	var awsCfg aws.Config
	if cfg.storeBackend == backendDynamoDB || cfg.paramPrefix != "" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fatal("failed to load AWS config", err)
		}
	}

	// ---- Shared store ----
	var store sharedStore
	switch cfg.storeBackend {
	case backendMemory:
		store = repository.NewMemoryStore(clk, repository.WithMemoryLogger(logger))
	default:
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.stateTable, clk)
		if err != nil {
			fatal("failed to create state client", err)
		}
		store = client
	}
	if err := store.Connect(ctx); err != nil {
		fatal("failed to connect state store", err)
	}
	defer store.Close()

	// ---- Secrets ----
	var params *paramstore.Client
	var webhookSecret string
	if cfg.paramPrefix != "" {
		var err error
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.paramPrefix)
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		var secret struct {
			Secret string `json:"secret"`
		}
		if err := params.GetJSON(ctx, webhookSecretParam, &secret); err != nil {
			fatal("failed to load webhook secret", err)
		}
		webhookSecret = secret.Secret
	}

	// ---- Calendar ----
	calendarHTTP := &http.Client{Timeout: cfg.calendarTimeout}
	if params != nil {
		var err error
		calendarHTTP, err = calendar.NewServiceAccountHTTPClient(ctx, params, serviceAccountParam, cfg.calendarTimeout)
		if err != nil {
			fatal("failed to create calendar credentials", err)
		}
	}
	calOpts := []calendar.Option{
		calendar.WithHTTPClient(calendarHTTP),
		calendar.WithTimeZone(cfg.schedule.Location.String()),
		calendar.WithRateLimit(cfg.calendarRPS, max(int(cfg.calendarRPS), 1)),
		calendar.WithObserver(recorder),
	}
	if cfg.calendarBaseURL != "" {
		calOpts = append(calOpts, calendar.WithBaseURL(cfg.calendarBaseURL))
	}
	calendarClient, err := calendar.NewClient(cfg.agentEmail, calOpts...)
	if err != nil {
		fatal("failed to create calendar client", err)
	}

	// ---- Domain services ----
	schedule, err := timeslot.NewSchedule(cfg.schedule, clk)
	if err != nil {
		fatal("invalid business schedule", err)
	}
	holdManager, err := holds.NewManager(store, clk,
		holds.WithHoldTTL(cfg.holdTTL),
		holds.WithMaxExtension(cfg.holdMaxExtension),
		holds.WithLogger(logger),
		holds.WithObserver(recorder),
	)
	if err != nil {
		fatal("failed to create hold manager", err)
	}
	machine, err := callstate.NewMachine(store, clk,
		callstate.WithIdleTTL(cfg.callTTL),
		callstate.WithLogger(logger),
		callstate.WithObserver(recorder),
	)
	if err != nil {
		fatal("failed to create call state machine", err)
	}

	bookings, err := usecase.NewBookingService(holdManager, calendarClient, schedule, cfg.agentEmail,
		usecase.WithCalendarTimeout(cfg.calendarTimeout),
		usecase.WithBookingLogger(logger),
		usecase.WithBookingObserver(recorder),
	)
	if err != nil {
		fatal("failed to create booking service", err)
	}
	conversation, err := usecase.NewConversationService(machine, bookings,
		usecase.WithAssistantModel(cfg.assistantModel),
		usecase.WithConversationLogger(logger),
		usecase.WithToolObserver(recorder),
	)
	if err != nil {
		fatal("failed to create conversation service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(conversation, bookings, handler.WithSecret(webhookSecret), handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	if cfg.runtime == runtimeLambda {
		lambda.Start(h.Handle)
		return
	}
	if err := serveHTTP(ctx, cfg.port, h, recorder.Handler()); err != nil {
		fatal("http server failed", err)
	}
}

// serveHTTP runs the handler and /metrics until SIGINT or SIGTERM.
func serveHTTP(ctx context.Context, port int, app, metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	mux.Handle("/", app)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
