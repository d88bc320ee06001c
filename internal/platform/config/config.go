package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultCollaboratorTimeout = 5 * time.Second
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
	defaultServiceTokenTTL     = 2 * time.Minute
	defaultServiceTokenIssuer  = "orders-api"
	defaultEventTopic          = "order-events"
	defaultNearestBranchCount  = 5
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Storage       StorageConfig
	PubSub        PubSubConfig
	Payments      PaymentsConfig
	Collaborators CollaboratorsConfig
	Security      SecurityConfig
	Fulfillment   FulfillmentConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	// ProofsBucket holds delivery proof uploads.
	ProofsBucket string
}

// PubSubConfig configures the order event topic.
type PubSubConfig struct {
	ProjectID  string
	EventTopic string
}

// PaymentsConfig collects payment gateway credentials.
type PaymentsConfig struct {
	StripeAPIKey string
}

// CollaboratorConfig holds one collaborator service endpoint.
type CollaboratorConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CollaboratorsConfig lists the services the fulfillment core calls.
type CollaboratorsConfig struct {
	Branches  CollaboratorConfig
	Warehouse CollaboratorConfig
	Routing   CollaboratorConfig
	Users     CollaboratorConfig
	Products  CollaboratorConfig
	Wallet    CollaboratorConfig
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	HMAC        HMACConfig
	ServiceAuth ServiceAuthConfig
}

// HMACConfig captures the internal callback signing expectations.
type HMACConfig struct {
	// PaymentCallbackSecret signs PATCH payment-status callbacks. May be an
	// sm:// reference resolved at load time.
	PaymentCallbackSecret string
	ClockSkew             time.Duration
	NonceTTL              time.Duration
}

// ServiceAuthConfig configures outbound service token signing.
type ServiceAuthConfig struct {
	// SigningSecret signs short-lived HS256 tokens attached to collaborator
	// calls. May be an sm:// reference resolved at load time.
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

// FulfillmentConfig tunes branch resolution behaviour.
type FulfillmentConfig struct {
	// NearestBranchCount is the k used when asking the branch directory for
	// candidates near the delivery coordinates.
	NearestBranchCount int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
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

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	collaborator := func(prefix string) CollaboratorConfig {
		return CollaboratorConfig{
			BaseURL: stringWithDefault(lookup, prefix+"_URL", ""),
			Timeout: durationWithDefault(lookup, prefix+"_TIMEOUT", defaultCollaboratorTimeout),
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERS_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERS_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ProofsBucket: stringWithDefault(lookup, "ORDERS_STORAGE_PROOFS_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  stringWithDefault(lookup, "ORDERS_PUBSUB_PROJECT_ID", ""),
			EventTopic: stringWithDefault(lookup, "ORDERS_PUBSUB_EVENT_TOPIC", defaultEventTopic),
		},
		Payments: PaymentsConfig{
			StripeAPIKey: stringWithDefault(lookup, "ORDERS_PAYMENTS_STRIPE_API_KEY", ""),
		},
		Collaborators: CollaboratorsConfig{
			Branches:  collaborator("ORDERS_COLLAB_BRANCHES"),
			Warehouse: collaborator("ORDERS_COLLAB_WAREHOUSE"),
			Routing:   collaborator("ORDERS_COLLAB_ROUTING"),
			Users:     collaborator("ORDERS_COLLAB_USERS"),
			Products:  collaborator("ORDERS_COLLAB_PRODUCTS"),
			Wallet:    collaborator("ORDERS_COLLAB_WALLET"),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "ORDERS_SECURITY_ENVIRONMENT", "local")),
			HMAC: HMACConfig{
				PaymentCallbackSecret: stringWithDefault(lookup, "ORDERS_SECURITY_PAYMENT_CALLBACK_SECRET", ""),
				ClockSkew:             durationWithDefault(lookup, "ORDERS_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:              durationWithDefault(lookup, "ORDERS_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
			ServiceAuth: ServiceAuthConfig{
				SigningSecret: stringWithDefault(lookup, "ORDERS_SECURITY_SERVICE_TOKEN_SECRET", ""),
				Issuer:        stringWithDefault(lookup, "ORDERS_SECURITY_SERVICE_TOKEN_ISSUER", defaultServiceTokenIssuer),
				TokenTTL:      durationWithDefault(lookup, "ORDERS_SECURITY_SERVICE_TOKEN_TTL", defaultServiceTokenTTL),
			},
		},
		Fulfillment: FulfillmentConfig{
			NearestBranchCount: intWithDefault(lookup, "ORDERS_FULFILLMENT_NEAREST_BRANCHES", defaultNearestBranchCount),
		},
	}

	// Firestore and Pub/Sub projects default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Security.HMAC.PaymentCallbackSecret", &cfg.Security.HMAC.PaymentCallbackSecret},
		{"Security.ServiceAuth.SigningSecret", &cfg.Security.ServiceAuth.SigningSecret},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Collaborators.Branches.BaseURL == "" {
		missing = append(missing, "Collaborators.Branches.BaseURL")
	}
	if cfg.Collaborators.Warehouse.BaseURL == "" {
		missing = append(missing, "Collaborators.Warehouse.BaseURL")
	}
	if cfg.Fulfillment.NearestBranchCount <= 0 {
		missing = append(missing, "Fulfillment.NearestBranchCount")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
