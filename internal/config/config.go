// Package config loads and validates the process configuration from the
// environment. Broker credentials are mandatory; everything else falls back
// to sensible defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue names shared by the front-end and the worker. Every component that
// touches a queue declares it, so declaration must stay idempotent.
const (
	DefaultRequestQueue  = "chat_requests"
	DefaultResponseQueue = "chat_responses"
	DefaultPoisonQueue   = "chat_requests_poison"
)

// Config groups the settings for both the API front-end and the worker. Each
// binary only uses the keys that are relevant to it.
type Config struct {
	// RabbitMQ connection details. All four are required; a missing value is
	// a startup-time configuration error, not a runtime fault.
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string

	// Queue names. Defaults cover the standard chat topology.
	RequestQueue  string
	ResponseQueue string
	PoisonQueue   string

	// HTTP front-end.
	HTTPAddress        string
	CORSAllowedOrigins []string

	// Metrics endpoint.
	MetricsEnabled bool
	MetricsPort    int

	// ConsumerBackoff is the fixed delay before the response consumer
	// re-enters its loop after a transport failure.
	ConsumerBackoff time.Duration

	// ShutdownTimeout bounds the wait for background tasks on shutdown.
	ShutdownTimeout time.Duration

	// WorkerMaxAttempts caps broker redelivery of a failing request. Zero
	// keeps the default unbounded-redelivery behaviour; when positive, the
	// n-th failing delivery is acknowledged and a copy is routed to the
	// poison queue instead.
	WorkerMaxAttempts int
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything except the broker credentials.
func FromEnv() *Config {
	return &Config{
		RabbitMQHost:       os.Getenv("RABBITMQ_HOST"),
		RabbitMQPort:       os.Getenv("RABBITMQ_PORT"),
		RabbitMQUser:       os.Getenv("RABBITMQ_USER"),
		RabbitMQPassword:   os.Getenv("RABBITMQ_PASSWORD"),
		RequestQueue:       envOr("CHAT_REQUEST_QUEUE", DefaultRequestQueue),
		ResponseQueue:      envOr("CHAT_RESPONSE_QUEUE", DefaultResponseQueue),
		PoisonQueue:        envOr("CHAT_POISON_QUEUE", DefaultPoisonQueue),
		HTTPAddress:        envOr("HTTP_ADDRESS", ":8000"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		MetricsEnabled:     os.Getenv("METRICS_ENABLED") == "true",
		MetricsPort:        envInt("METRICS_PORT", 9090),
		ConsumerBackoff:    envDuration("CONSUMER_BACKOFF", 5*time.Second),
		ShutdownTimeout:    envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WorkerMaxAttempts:  envInt("WORKER_MAX_ATTEMPTS", 0),
	}
}

// AMQPURL renders the broker connection string from the individual settings.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		url.QueryEscape(c.RabbitMQUser),
		url.QueryEscape(c.RabbitMQPassword),
		c.RabbitMQHost,
		c.RabbitMQPort,
	)
}

// Validate checks that the configuration is complete. Returns an error
// describing every missing or invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.RabbitMQHost == "" {
		errs = append(errs, errors.New("rabbitmq: host is required"))
	}
	if c.RabbitMQPort == "" {
		errs = append(errs, errors.New("rabbitmq: port is required"))
	}
	if c.RabbitMQUser == "" {
		errs = append(errs, errors.New("rabbitmq: user is required"))
	}
	if c.RabbitMQPassword == "" {
		errs = append(errs, errors.New("rabbitmq: password is required"))
	}
	if c.RequestQueue == "" {
		errs = append(errs, errors.New("queues: request queue is required"))
	}
	if c.ResponseQueue == "" {
		errs = append(errs, errors.New("queues: response queue is required"))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.ConsumerBackoff < 0 {
		errs = append(errs, errors.New("consumer: backoff cannot be negative"))
	}
	if c.WorkerMaxAttempts < 0 {
		errs = append(errs, errors.New("worker: max attempts cannot be negative"))
	}

	return errors.Join(errs...)
}

func (c Config) String() string {
	copy := c
	if copy.RabbitMQPassword != "" {
		copy.RabbitMQPassword = "***REDACTED***"
	}
	// Type alias avoids infinite recursion when printing.
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
