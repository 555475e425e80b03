package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"havosec-api/internal/util"
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusDegraded  = "degraded"

	healthCheckTimeout = 3 * time.Second
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type DependencyHealth struct {
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
	Error          string  `json:"error,omitempty"`
}

type SystemHealth struct {
	Status       string             `json:"status"`
	Services     []DependencyHealth `json:"services"`
	SystemUptime float64            `json:"systemUptime"`
	LastCheck    time.Time          `json:"lastCheck"`
}

// HealthService reports the live state of every configured dependency.
type HealthService struct {
	checks     map[string]HealthCheck
	monitoring MonitoringProvider
	logger     *zap.Logger
	now        func() time.Time
}

func NewHealthService(checks map[string]HealthCheck, monitoring MonitoringProvider, logger *zap.Logger) *HealthService {
	return &HealthService{
		checks:     checks,
		monitoring: monitoring,
		logger:     logger,
		now:        time.Now,
	}
}

// Check runs all probes concurrently. A failing probe marks that dependency
// unhealthy; it never fails the report.
func (s *HealthService) Check(ctx context.Context) *SystemHealth {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		services = make([]DependencyHealth, 0, len(s.checks))
	)

	for name, check := range s.checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()

			start := time.Now()
			err := check(cctx)
			dep := DependencyHealth{
				Name:           name,
				Status:         HealthStatusHealthy,
				ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				dep.Status = HealthStatusUnhealthy
				dep.Error = err.Error()
				s.logger.Warn("Dependency health check failed",
					util.String("dependency", name),
					util.ErrorField(err))
			}

			mu.Lock()
			services = append(services, dep)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	report := &SystemHealth{
		Status:    HealthStatusHealthy,
		Services:  services,
		LastCheck: s.now().UTC(),
	}
	for _, dep := range services {
		if dep.Status != HealthStatusHealthy {
			report.Status = HealthStatusDegraded
			break
		}
	}
	if uptime, err := s.monitoring.SystemUptime(ctx); err == nil {
		report.SystemUptime = uptime
	}
	return report
}
