package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"voice-booking/internal/timeslot"
)

const (
	runtimeLambda = "lambda"
	runtimeHTTP   = "http"

	backendDynamoDB = "dynamodb"
	backendMemory   = "memory"

	serviceAccountParam = "google-service-account"
	webhookSecretParam  = "webhook-secret"
)

type config struct {
	runtime         string
	port            int
	storeBackend    string
	stateTable      string
	paramPrefix     string
	agentEmail      string
	calendarBaseURL string
	assistantModel  string

	callTTL          time.Duration
	holdTTL          time.Duration
	holdMaxExtension time.Duration
	calendarTimeout  time.Duration
	calendarRPS      float64

	schedule timeslot.Config
}

// loadConfig reads the environment. It is the only place that does.
func loadConfig() config {
	cfg := config{
		runtime:         envOneOf("RUNTIME", runtimeLambda, runtimeLambda, runtimeHTTP),
		port:            envInt("PORT", 8080),
		storeBackend:    envOneOf("STORE_BACKEND", backendDynamoDB, backendDynamoDB, backendMemory),
		paramPrefix:     strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		agentEmail:      mustEnv("AGENT_EMAIL"),
		calendarBaseURL: strings.TrimSpace(os.Getenv("CALENDAR_BASE_URL")),
		assistantModel:  os.Getenv("ASSISTANT_MODEL"),

		callTTL:          envSeconds("CALL_TTL_SECONDS", time.Hour),
		holdTTL:          envSeconds("HOLD_TTL_SECONDS", 60*time.Second),
		holdMaxExtension: envSeconds("HOLD_MAX_EXTENSION_SECONDS", 30*time.Second),
		calendarTimeout:  envSeconds("CALENDAR_TIMEOUT_SECONDS", 10*time.Second),
		calendarRPS:      envFloat("CALENDAR_RPS", 5),
	}
	if cfg.storeBackend == backendDynamoDB {
		cfg.stateTable = mustEnv("STATE_TABLE")
	}
	if err := cfg.validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	sched := timeslot.DefaultConfig()
	if tz := strings.TrimSpace(os.Getenv("BUSINESS_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			slog.Error("invalid BUSINESS_TIMEZONE", "value", tz, "err", err)
			os.Exit(1)
		}
		sched.Location = loc
		sched.ZoneLabel = time.Now().In(loc).Format("MST")
	}
	sched.OpenHour = envInt("BUSINESS_OPEN_HOUR", sched.OpenHour)
	sched.CloseHour = envInt("BUSINESS_CLOSE_HOUR", sched.CloseHour)
	sched.SlotDuration = time.Duration(envInt("SLOT_MINUTES", int(sched.SlotDuration/time.Minute))) * time.Minute
	sched.MinAdvance = time.Duration(envInt("MIN_ADVANCE_MINUTES", int(sched.MinAdvance/time.Minute))) * time.Minute
	cfg.schedule = sched

	return cfg
}

// validate rejects combinations that start but cannot work. Lambda instances
// do not share memory, so a memory hold store there gives no mutual exclusion.
func (c config) validate() error {
	if c.runtime == runtimeLambda && c.storeBackend == backendMemory {
		return errors.New("STORE_BACKEND=memory is not supported with RUNTIME=lambda")
	}
	if c.paramPrefix == "" && c.calendarBaseURL == "" {
		return errors.New("either PARAM_PREFIX or CALENDAR_BASE_URL must be set")
	}
	return nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envSeconds(key string, def time.Duration) time.Duration {
	n := envInt(key, -1)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envOneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	slog.Error("unsupported value for environment variable", "key", key, "value", v, "allowed", allowed)
	os.Exit(1)
	return ""
}
