package factory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"contact-service/internal/client"
	"contact-service/internal/config"
	"contact-service/internal/model"
	"contact-service/internal/ratelimit"
	redisrepo "contact-service/internal/repository/redis"
	"contact-service/internal/repository/sqlite"
	"contact-service/internal/service"
	"contact-service/internal/tls"
	"contact-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	kafkaProducer *client.KafkaProducer

	// Stores
	messageRepo *sqlite.MessageRepository
	memoryStore *ratelimit.MemoryStore
	limiter     *ratelimit.Limiter

	contactService *service.ContactService

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies.
// Configuration problems are fatal here, before the server accepts traffic.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := f.initializeDependencies(); err != nil {
		return nil, err
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("rate_limit_backend", cfg.Contact.Backend),
		util.Int("contact_rate_limit", cfg.Contact.RateLimit),
		util.Duration("contact_rate_limit_window", cfg.Contact.RateLimitWindow),
	)

	return f, nil
}

func (f *Factory) initializeDependencies() error {
	cfg := f.config

	// Message store is required; without it submissions have nowhere to go.
	repo, err := sqlite.NewMessageRepository(cfg, util.Get())
	if err != nil {
		return fmt.Errorf("message repository: %w", err)
	}
	f.messageRepo = repo

	store, err := f.initializeLimitStore()
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewLimiter(store, cfg.Contact.RateLimit, cfg.Contact.RateLimitWindow,
		ratelimit.WithFailClosed(cfg.Contact.FailMode == "closed"),
		ratelimit.WithLogger(util.Get()),
	)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	f.limiter = limiter

	// Kafka is optional: no brokers or a failed init degrades notification
	// delivery, never the contact form itself.
	var publisher model.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := client.NewKafkaProducer(cfg, util.Get())
		if err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			publisher = producer
		}
	}

	f.contactService = service.NewContactService(f.messageRepo, publisher, f.limiter, util.Get())
	return nil
}

// initializeLimitStore picks the rate-limit backend. Redis is required when
// configured in production; in development an unreachable redis falls back
// to the in-process store with a warning.
func (f *Factory) initializeLimitStore() (ratelimit.Store, error) {
	cfg := f.config

	if cfg.Contact.Backend == "redis" {
		redisClient, err := client.NewRedisClient(cfg, util.Get())
		if err == nil {
			f.redisClient = redisClient
			return redisrepo.NewContactLimitCache(redisClient), nil
		}
		if cfg.IsProduction() {
			return nil, fmt.Errorf("redis: %w", err)
		}
		util.Warn("Redis unavailable, falling back to in-memory rate limit store", util.ErrorField(err))
	}

	f.memoryStore = ratelimit.NewMemoryStore()
	return f.memoryStore, nil
}

// HealthCheck probes all initialized dependencies concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)
	record := func(name string, err error) {
		if err != nil {
			mu.Lock()
			healthErrors[name] = err
			mu.Unlock()
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		record("database", f.messageRepo.HealthCheck(ctx))
		return nil
	})
	if f.redisClient != nil {
		g.Go(func() error {
			record("redis", f.redisClient.HealthCheck(ctx))
			return nil
		})
	}
	if f.kafkaProducer != nil {
		g.Go(func() error {
			record("kafka", f.kafkaProducer.HealthCheck(ctx))
			return nil
		})
	}

	_ = g.Wait()
	return healthErrors
}

// RequiredHealth is the health view served over HTTP: kafka is best-effort
// and does not make the service unhealthy.
func (f *Factory) RequiredHealth(ctx context.Context) map[string]error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.memoryStore != nil {
			f.memoryStore.Close()
		}

		if f.messageRepo != nil {
			if err := f.messageRepo.Close(); err != nil {
				util.Error("Failed to close database", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ContactService() *service.ContactService {
	return f.contactService
}
