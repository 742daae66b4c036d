// Package app wires the stores, brokers and services shared by the API and
// worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/bloodbank-api/internal/config"
	"github.com/jwalitptl/bloodbank-api/internal/email"
	"github.com/jwalitptl/bloodbank-api/internal/repository"
	"github.com/jwalitptl/bloodbank-api/internal/repository/memory"
	"github.com/jwalitptl/bloodbank-api/internal/repository/postgres"
	"github.com/jwalitptl/bloodbank-api/internal/service/audit"
	"github.com/jwalitptl/bloodbank-api/internal/service/expiry"
	"github.com/jwalitptl/bloodbank-api/internal/service/ledger"
	"github.com/jwalitptl/bloodbank-api/internal/service/notification"
	"github.com/jwalitptl/bloodbank-api/internal/service/report"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
	"github.com/jwalitptl/bloodbank-api/pkg/messaging"
	"github.com/jwalitptl/bloodbank-api/pkg/messaging/redis"
	"github.com/jwalitptl/bloodbank-api/pkg/metrics"
)

// Stores groups the repository implementations of one storage driver.
type Stores struct {
	Ledger        repository.LedgerRepository
	Reports       repository.ReportRepository
	Audit         repository.AuditRepository
	Donors        repository.DonorRepository
	Outbox        repository.OutboxRepository
	Notifications repository.NotificationRepository
	Health        repository.HealthChecker
}

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Stores  Stores
	Broker  messaging.Broker
	Ledger  *ledger.Service
	Reports *report.Service

	closers []func() error
}

// New opens storage and the broker and builds the services. Redis and SMTP
// are optional: an empty URL or host disables that channel.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.NewMetrics("bloodbank", reg),
	}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBroker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var mailer email.Service
	if cfg.SMTP.Host != "" {
		svc, err := email.NewSMTPService(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		mailer = svc
	} else {
		log.Warn("SMTP host not configured, email notifications disabled")
	}
	notifier := notification.NewService(a.Stores.Notifications, mailer, a.Broker, log, a.Metrics)

	policy, err := expiry.NewPolicy(
		cfg.Inventory.ShelfLifeDays,
		cfg.Inventory.MaxCollectionAgeDays,
		cfg.Inventory.Location(),
		time.Now,
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Reports = report.NewService(a.Stores.Reports, a.Stores.Audit, policy, report.Config{
		ExpiringSoonDays: cfg.Inventory.ExpiringSoonDays,
		SummaryTTL:       cfg.Reporting.SummaryTTL,
	}, log)

	a.Ledger = ledger.NewService(
		a.Stores.Ledger,
		policy,
		audit.NewService(log, a.Metrics, time.Now),
		notifier,
		a.Reports,
		ledger.Config{
			MaxMintAttempts:   cfg.Inventory.MaxMintAttempts,
			LowStockThreshold: cfg.Inventory.LowStockThreshold,
			NotifyRecipient:   cfg.Inventory.NotifyRecipient,
		},
		log,
		a.Metrics,
	)
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch strings.ToLower(a.Config.Storage.Driver) {
	case "memory":
		a.Logger.Warn("Using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		a.Stores = Stores{
			Ledger:        store,
			Reports:       store,
			Audit:         store,
			Donors:        store,
			Outbox:        store,
			Notifications: store,
			Health:        store,
		}
		return nil
	case "postgres":
		db, err := postgres.NewDB(ctx, a.Config.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if a.Config.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
		base := postgres.NewBaseRepository(db)
		a.Stores = Stores{
			Ledger:        postgres.NewLedgerRepository(base),
			Reports:       postgres.NewReportRepository(base),
			Audit:         postgres.NewAuditRepository(base),
			Donors:        postgres.NewDonorRepository(base),
			Outbox:        postgres.NewOutboxRepository(base),
			Notifications: postgres.NewNotificationRepository(base),
			Health:        &base,
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", a.Config.Storage.Driver)
	}
}

func (a *App) openBroker(ctx context.Context) error {
	if a.Config.Redis.URL == "" {
		a.Logger.Warn("Redis URL not configured, using in-process broker")
		a.Broker = messaging.NewMemoryBroker()
		return nil
	}
	broker, err := redis.NewRedisBroker(ctx, a.Config.Redis.ToBrokerConfig(), a.Logger.ZL())
	if err != nil {
		return err
	}
	a.Broker = broker
	a.closers = append(a.closers, broker.Close)
	return nil
}

// Close releases storage and broker connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Checks lists the dependencies the readiness probe pings.
func (a *App) Checks() map[string]repository.HealthChecker {
	checks := map[string]repository.HealthChecker{"store": a.Stores.Health}
	if b, ok := a.Broker.(repository.HealthChecker); ok {
		checks["broker"] = b
	}
	return checks
}
