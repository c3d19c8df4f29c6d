package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/voice-campaign-core/internal/businesshours"
	"github.com/acme/voice-campaign-core/internal/config"
	"github.com/acme/voice-campaign-core/internal/dispatch"
	"github.com/acme/voice-campaign-core/internal/dispatch/relay"
	"github.com/acme/voice-campaign-core/internal/dispatch/sequential"
	"github.com/acme/voice-campaign-core/internal/domain"
	"github.com/acme/voice-campaign-core/internal/infra/db"
	"github.com/acme/voice-campaign-core/internal/infra/redis"
	"github.com/acme/voice-campaign-core/internal/queue"
	"github.com/acme/voice-campaign-core/internal/realtime"
	"github.com/acme/voice-campaign-core/internal/repository"
	pgrepo "github.com/acme/voice-campaign-core/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-campaign-core/internal/repository/scylla"
	campaignsvc "github.com/acme/voice-campaign-core/internal/service/campaign"
	"github.com/acme/voice-campaign-core/internal/service/concurrency"
	recipientsvc "github.com/acme/voice-campaign-core/internal/service/recipient"
	"github.com/acme/voice-campaign-core/internal/telephony"
	telephonyMock "github.com/acme/voice-campaign-core/internal/telephony/mock"
	"github.com/acme/voice-campaign-core/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		services     *services
		telephony    telephony.CallCreator
		broker       *realtime.Broker
		leases       *concurrency.Leases
		dialer       *sequential.Dialer
	}
}

type repositories struct {
	Campaigns  repository.CampaignRepository
	Recipients repository.RecipientRepository
	Directory  repository.AgentDirectory
	Attempts   repository.AttemptLog
}

type publishers struct {
	Dial   *queue.DialPublisher
	Status *queue.StatusPublisher
}

type services struct {
	Campaign  *campaignsvc.Service
	Recipient *recipientsvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}
	if err := container.connect(ctx); err != nil {
		_ = container.Close(ctx)
		return nil, err
	}
	return container, nil
}

func (c *Container) connect(ctx context.Context) error {
	cfg := c.Config

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("bootstrap postgres: %w", err)
	}
	c.Postgres = pg

	scylla, err := db.NewScylla(ctx, cfg.Scylla)
	if err != nil {
		return fmt.Errorf("bootstrap scylla: %w", err)
	}
	c.Scylla = scylla
	if !cfg.Scylla.DisableInitSchema {
		if err := scyllarepo.NewAttemptStore(scylla.Session()).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("bootstrap scylla: %w", err)
		}
	}

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	c.Redis = redisClient

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("bootstrap kafka: %w", err)
	}
	c.Kafka = kafka
	return nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config
		zl := c.Logger.Logger

		repos := &repositories{
			Campaigns:  pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Recipients: pgrepo.NewRecipientRepository(c.Postgres.DB()),
			Directory:  pgrepo.NewAgentDirectory(c.Postgres.DB()),
			Attempts:   scyllarepo.NewAttemptStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Dial:   queue.NewDialPublisher(c.Kafka, cfg.Kafka.DialTopic),
			Status: queue.NewStatusPublisher(c.Kafka, cfg.Kafka.StatusTopic),
		}

		var calls telephony.CallCreator
		if cfg.DirectDial.Mock {
			calls = telephonyMock.NewProvider()
		} else {
			calls = telephony.NewClient(cfg.DirectDial.BaseURL, cfg.DirectDial.RequestTimeout)
		}

		registry := dispatch.NewRegistry(
			relay.New(relay.Options{
				BaseURL:        cfg.Relay.BaseURL,
				APIKey:         cfg.Relay.APIKey,
				RequestTimeout: cfg.Relay.RequestTimeout,
				BatchTTL:       cfg.Relay.BatchTTL,
				Logger:         zl.Named("relay"),
			}),
			sequential.NewDispatcher(pubs.Dial),
		)

		broker := realtime.NewBroker(c.Redis.Inner(), zl.Named("realtime"))

		svcs := &services{
			Campaign: campaignsvc.NewService(
				repos.Campaigns,
				repos.Recipients,
				repos.Directory,
				registry,
				businesshours.NewEvaluator(cfg.BusinessHours.FailClosed, zl.Named("businesshours")),
				campaignsvc.Options{
					APIKeys: map[domain.Provider]string{
						domain.ProviderRelay:      cfg.Relay.APIKey,
						domain.ProviderDirectDial: cfg.Integration.DirectDialAPIKey,
					},
					DefaultCallerID:      cfg.Integration.DefaultCallerID,
					DefaultPhoneNumberID: cfg.Integration.DefaultPhoneNumberID,
					Logger:               zl.Named("campaign"),
				},
			),
			Recipient: recipientsvc.NewService(
				repos.Campaigns,
				repos.Recipients,
				repos.Attempts,
				broker,
				recipientsvc.Options{
					MaxImportBatch: cfg.Recipients.MaxImportBatch,
					DefaultRegion:  cfg.Recipients.DefaultRegion,
					Logger:         zl.Named("recipient"),
				},
			),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.services = svcs
		c.components.telephony = calls
		c.components.broker = broker
		c.components.leases = concurrency.NewLeases(c.Redis.Inner(), cfg.Scheduler.LockKeyPrefix)
		c.components.dialer = sequential.NewDialer(calls, sequential.Options{
			Delay:           cfg.DirectDial.CallDelay,
			CheckpointEvery: cfg.DirectDial.CheckpointEvery,
			MaxRetries:      cfg.DirectDial.MaxRetries,
			RateLimitWait:   cfg.DirectDial.RateLimitWait,
			ErrorWait:       cfg.DirectDial.ErrorWait,
			Logger:          zl.Named("dialer"),
		})
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes the Kafka producers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Telephony exposes the direct-dial vendor client.
func (c *Container) Telephony() telephony.CallCreator {
	c.initComponents()
	return c.components.telephony
}

// Broker exposes the recipient change broker.
func (c *Container) Broker() *realtime.Broker {
	c.initComponents()
	return c.components.broker
}

// Leases exposes the redis lease issuer.
func (c *Container) Leases() *concurrency.Leases {
	c.initComponents()
	return c.components.leases
}

// Dialer exposes the sequential dial loop.
func (c *Container) Dialer() *sequential.Dialer {
	c.initComponents()
	return c.components.dialer
}

// HealthChecks returns a ping per backing store, keyed by name.
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Kafka != nil {
		checks["kafka"] = c.Kafka.Ping
	}
	return checks
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureTopics(ctx)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if err := p.Dial.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dial publisher close: %w", err))
		}
		if err := p.Status.Close(); err != nil {
			errs = append(errs, fmt.Errorf("status publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
