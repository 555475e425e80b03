package service

import (
	"havosec-api/internal/config"
	"havosec-api/internal/hashing"
	"havosec-api/internal/repository"

	"go.uber.org/zap"
)

// Dependencies are the stores and collaborators the services are built from.
// Optional members may be nil.
type Dependencies struct {
	Events     repository.EventStore
	Analytics  repository.EventReader // defaults to Events
	Sinks      []repository.EventSink
	Publisher  EventPublisher
	Users      repository.UserRepository
	Limiter    LoginLimiter
	Revoker    TokenRevoker
	Monitoring MonitoringProvider
	Hasher     *hashing.Hasher
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps   Dependencies
	cfg    *config.Config
	logger *zap.Logger

	analyticsService *AnalyticsService
	eventService     *EventService
	authService      *AuthService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies, cfg *config.Config, logger *zap.Logger) *ServiceFactory {
	if deps.Analytics == nil {
		deps.Analytics = deps.Events
	}
	if deps.Monitoring == nil {
		deps.Monitoring = StaticMonitoring{
			Uptime:       cfg.Monitoring.SystemUptime,
			ResponseTime: cfg.Monitoring.AverageResponseTime,
		}
	}
	if deps.Hasher == nil {
		deps.Hasher = hashing.NewHasher(cfg.Auth.BcryptCost)
	}
	return &ServiceFactory{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// AnalyticsService returns the aggregator instance (singleton)
func (f *ServiceFactory) AnalyticsService() *AnalyticsService {
	if f.analyticsService == nil {
		f.analyticsService = NewAnalyticsService(
			f.deps.Analytics,
			f.deps.Monitoring,
			f.logger.Named("analytics"),
			WithExportLimit(f.cfg.Analytics.ExportLimit),
		)
	}
	return f.analyticsService
}

// EventService returns the event lifecycle service (singleton)
func (f *ServiceFactory) EventService() *EventService {
	if f.eventService == nil {
		f.eventService = NewEventService(f.deps.Events, f.logger.Named("events")).
			WithSinks(f.deps.Sinks...)
		if f.deps.Publisher != nil {
			f.eventService.WithPublisher(f.deps.Publisher)
		}
	}
	return f.eventService
}

// AuthService returns the auth service (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.deps.Users,
			f.deps.Hasher,
			f.deps.Limiter,
			f.deps.Revoker,
			f.cfg.Auth,
			f.logger.Named("auth"),
		)
	}
	return f.authService
}
