package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultGatewayTimeout = 20 * time.Second
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Firebase  FirebaseConfig
	PSP       PSPConfig
	Events    EventsConfig
	Features  FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirebaseConfig stores Firebase project settings used for token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// PSPConfig collects payment gateway settings.
type PSPConfig struct {
	StripeAPIKey   string
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	// RequirePaidShipments rejects shipment creation for orders whose payment
	// has not completed. Off by default: the platform historically allowed
	// shipping ahead of payment confirmation and reconciling afterwards.
	RequirePaidShipments bool
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises configuration loading.
type Option func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile overrides the path of the optional dotenv file.
func WithEnvFile(path string) Option {
	return func(l *loader) {
		if strings.TrimSpace(path) != "" {
			l.envFile = path
		}
	}
}

// WithLookup overrides the environment lookup function (used by tests).
func WithLookup(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		if fn != nil {
			l.lookup = fn
		}
	}
}

// Load assembles the configuration from the environment, applying defaults
// and validating required fields.
func Load(opts ...Option) (Config, error) {
	l := &loader{
		envFile: defaultEnvFile,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	fileValues := readEnvFile(l.envFile)
	get := func(key string) string {
		if value, ok := l.lookup(key); ok {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(fileValues[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(get("PORT"), defaultPort),
			ReadTimeout:  parseDuration(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: parseDuration(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  parseDuration(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    get("FIRESTORE_PROJECT_ID"),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       defaultString(get("FIREBASE_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			CredentialsFile: get("FIREBASE_CREDENTIALS_FILE"),
		},
		PSP: PSPConfig{
			StripeAPIKey:   get("STRIPE_API_KEY"),
			SuccessURL:     get("PAYMENT_SUCCESS_URL"),
			CancelURL:      get("PAYMENT_CANCEL_URL"),
			GatewayTimeout: parseDuration(get("PAYMENT_GATEWAY_TIMEOUT"), defaultGatewayTimeout),
		},
		Events: EventsConfig{
			ProjectID: defaultString(get("PUBSUB_PROJECT_ID"), get("FIRESTORE_PROJECT_ID")),
			Topic:     get("PUBSUB_LIFECYCLE_TOPIC"),
		},
		Features: FeatureFlags{
			RequirePaidShipments: parseBool(get("FEATURE_REQUIRE_PAID_SHIPMENTS"), false),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "FIRESTORE_PROJECT_ID")
	}
	if cfg.PSP.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if cfg.PSP.SuccessURL == "" {
		missing = append(missing, "PAYMENT_SUCCESS_URL")
	}
	if cfg.PSP.CancelURL == "" {
		missing = append(missing, "PAYMENT_CANCEL_URL")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// readEnvFile parses KEY=VALUE lines from an optional dotenv file. A missing
// file is not an error.
func readEnvFile(path string) map[string]string {
	values := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return values
	}

	file, err := os.Open(path)
	if err != nil {
		return values
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		value := strings.TrimSpace(line[eq+1:])
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	return values
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
