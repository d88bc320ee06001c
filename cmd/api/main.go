package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/arbora/orders-api/internal/clients"
	"github.com/arbora/orders-api/internal/handlers"
	"github.com/arbora/orders-api/internal/payments"
	"github.com/arbora/orders-api/internal/platform/auth"
	"github.com/arbora/orders-api/internal/platform/config"
	pfirestore "github.com/arbora/orders-api/internal/platform/firestore"
	"github.com/arbora/orders-api/internal/platform/jobs"
	"github.com/arbora/orders-api/internal/platform/observability"
	"github.com/arbora/orders-api/internal/platform/secrets"
	platformstorage "github.com/arbora/orders-api/internal/platform/storage"
	"github.com/arbora/orders-api/internal/repositories"
	firestoreRepo "github.com/arbora/orders-api/internal/repositories/firestore"
	"github.com/arbora/orders-api/internal/services"
)

const paymentCallbackSecretName = "payment-callback"

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	tokens, err := clients.NewServiceTokenSource(
		cfg.Security.ServiceAuth.SigningSecret,
		cfg.Security.ServiceAuth.Issuer,
		cfg.Security.ServiceAuth.TokenTTL,
	)
	if err != nil {
		logger.Fatal("failed to initialise service token source", zap.Error(err))
	}

	branchesClient, err := clients.NewBranchesClient(cfg.Collaborators.Branches.BaseURL, cfg.Collaborators.Branches.Timeout, tokens)
	if err != nil {
		logger.Fatal("failed to initialise branches client", zap.Error(err))
	}
	warehouseClient, err := clients.NewWarehouseClient(cfg.Collaborators.Warehouse.BaseURL, cfg.Collaborators.Warehouse.Timeout, tokens)
	if err != nil {
		logger.Fatal("failed to initialise warehouse client", zap.Error(err))
	}
	routingClient := newOptionalRoutingClient(logger, cfg.Collaborators.Routing, tokens)
	usersClient := newOptionalUsersClient(logger, cfg.Collaborators.Users, tokens)
	productsClient := newOptionalProductsClient(logger, cfg.Collaborators.Products, tokens)
	walletClient := newOptionalWalletClient(logger, cfg.Collaborators.Wallet, tokens)

	proofSigner := newProofSigner(logger, cfg)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	eventTopic := pubsubClient.Topic(cfg.PubSub.EventTopic)
	defer func() {
		eventTopic.Stop()
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(eventTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	auditRepo, err := firestoreRepo.NewAuditLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise audit log repository", zap.Error(err))
	}

	resolver, err := services.NewBranchResolver(services.BranchResolverDeps{
		Branches:       branchesClient,
		Warehouse:      warehouseClient,
		Routing:        routingClient,
		CandidateCount: cfg.Fulfillment.NearestBranchCount,
		Logger:         zapEventLogger(logger.Named("fulfillment")),
	})
	if err != nil {
		logger.Fatal("failed to initialise branch resolver", zap.Error(err))
	}

	reservations, err := services.NewStockReservationCoordinator(services.StockReservationDeps{
		Warehouse: warehouseClient,
		Metrics:   metrics,
		Logger:    zapEventLogger(logger.Named("reservations")),
	})
	if err != nil {
		logger.Fatal("failed to initialise reservation coordinator", zap.Error(err))
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise audit log service", zap.Error(err))
	}

	refunder := newRefundProvider(logger, cfg)

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       orderRepo,
		Resolver:     resolver,
		Reservations: reservations,
		Audit:        auditService,
		Branches:     branchesClient,
		Users:        usersClient,
		Products:     productsClient,
		Wallet:       walletClient,
		Refunds:      refunder,
		Proofs:       proofSigner,
		ProofBucket:  cfg.Storage.ProofsBucket,
		Events:       eventPublisher,
		Metrics:      metrics,
		Clock:        time.Now,
		Logger:       zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, eventTopic)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	staffHandlers := handlers.NewStaffOrderHandlers(orderService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, staffHandlers)
	internalHandlers := handlers.NewInternalHandlers(orderService)
	healthHandlers := handlers.NewHealthHandlers(systemService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg)
	if hmacMiddleware == nil {
		logger.Warn("auth: payment callback secret not configured; internal routes will reject all requests")
		hmacMiddleware = handlers.RejectAllMiddleware("internal_auth_unavailable", "payment callback authentication is not configured")
	}
	opts = append(opts, handlers.WithInternalMiddlewares(hmacMiddleware))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orders api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger onto the event-style logging callback the
// services accept.
func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := strings.TrimSpace(os.Getenv("ORDERS_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newProofSigner builds the signed-URL client used for delivery proof uploads.
// Without service account credentials proof uploads are disabled.
func newProofSigner(logger *zap.Logger, cfg config.Config) services.ProofURLSigner {
	credentials := strings.TrimSpace(cfg.Firebase.CredentialsFile)
	if credentials == "" {
		logger.Warn("storage: no service account credentials; delivery proof uploads disabled")
		return nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromFile(credentials)
	if err != nil {
		logger.Warn("storage: failed to load signer credentials; delivery proof uploads disabled", zap.Error(err))
		return nil
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Warn("storage: failed to initialise signed url client; delivery proof uploads disabled", zap.Error(err))
		return nil
	}
	return client
}

func newRefundProvider(logger *zap.Logger, cfg config.Config) services.RefundProvider {
	apiKey := strings.TrimSpace(cfg.Payments.StripeAPIKey)
	if apiKey == "" {
		logger.Warn("payments: stripe api key not configured; gateway refunds disabled")
		return nil
	}
	refunder, err := payments.NewStripeRefunder(payments.StripeRefunderConfig{
		APIKey: apiKey,
		Logger: zapEventLogger(logger.Named("payments")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Warn("payments: failed to initialise stripe refunder; gateway refunds disabled", zap.Error(err))
		return nil
	}
	return refunder
}

func newOptionalRoutingClient(logger *zap.Logger, cfg config.CollaboratorConfig, tokens *clients.ServiceTokenSource) services.RoutingGateway {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Info("routing service not configured; branch candidates keep directory order")
		return nil
	}
	client, err := clients.NewRoutingClient(cfg.BaseURL, cfg.Timeout, tokens)
	if err != nil {
		logger.Warn("failed to initialise routing client", zap.Error(err))
		return nil
	}
	return client
}

func newOptionalUsersClient(logger *zap.Logger, cfg config.CollaboratorConfig, tokens *clients.ServiceTokenSource) services.UserDirectory {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Info("users service not configured; responses omit profile enrichment")
		return nil
	}
	client, err := clients.NewUsersClient(cfg.BaseURL, cfg.Timeout, tokens)
	if err != nil {
		logger.Warn("failed to initialise users client", zap.Error(err))
		return nil
	}
	return client
}

func newOptionalProductsClient(logger *zap.Logger, cfg config.CollaboratorConfig, tokens *clients.ServiceTokenSource) services.ProductCatalog {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Info("products service not configured; responses omit product enrichment")
		return nil
	}
	client, err := clients.NewProductsClient(cfg.BaseURL, cfg.Timeout, tokens)
	if err != nil {
		logger.Warn("failed to initialise products client", zap.Error(err))
		return nil
	}
	return client
}

func newOptionalWalletClient(logger *zap.Logger, cfg config.CollaboratorConfig, tokens *clients.ServiceTokenSource) services.WalletGateway {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		logger.Warn("wallet service not configured; escrow orders will be rejected")
		return nil
	}
	client, err := clients.NewWalletClient(cfg.BaseURL, cfg.Timeout, tokens)
	if err != nil {
		logger.Warn("failed to initialise wallet client", zap.Error(err))
		return nil
	}
	return client
}

func newSystemService(client *firestore.Client, topic *pubsub.Topic) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				exists, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
	})
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secret := strings.TrimSpace(cfg.Security.HMAC.PaymentCallbackSecret)
	if secret == "" {
		return nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if name != paymentCallbackSecretName {
			return "", fmt.Errorf("auth: unknown hmac secret %q", name)
		}
		return secret, nil
	})
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(zap.NewStdLog(logger)),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(paymentCallbackSecretName)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
