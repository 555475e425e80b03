package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"havosec-api/internal/config"
	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/service"
	"havosec-api/internal/util"
)

const (
	seedWindow = 30 * 24 * time.Hour
	chunkSize  = 500
)

var (
	eventTypes = []models.EventType{
		models.EventTypeAttackBlocked,
		models.EventTypeIntrusionAttempt,
		models.EventTypeMalwareDetected,
		models.EventTypePhishingBlocked,
		models.EventTypeDDoSMitigated,
		models.EventTypeVulnerabilityScan,
	}
	statuses = []models.EventStatus{
		models.StatusDetected,
		models.StatusBlocked,
		models.StatusInvestigating,
		models.StatusResolved,
	}
	countries    = []string{"US", "CN", "RU", "KP", "IR", "TR", "BR", "IN"}
	endpoints    = []string{"login", "dashboard", "admin", "upload", "search"}
	services     = []string{"web", "api", "database", "auth"}
	ports        = []int{80, 443, 22, 3306}
	descriptions = []string{
		"Suspicious login attempt detected",
		"SQL injection attack blocked",
		"Malware signature detected in upload",
		"DDoS attack mitigated",
		"Brute force attack on admin panel",
		"Phishing attempt blocked",
		"Vulnerability scan detected",
	}
)

const demoUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Ingester interface {
	Ingest(ctx context.Context, inputs []service.EventInput) ([]*models.SecurityEvent, error)
}

type AccountProvisioner interface {
	EnsureAdminUser(ctx context.Context, email, password string) (bool, error)
	EnsureClientUser(ctx context.Context, email, password, company string, role models.ClientRole) (bool, error)
}

// Seeder fills an empty deployment with demo events and default accounts.
type Seeder struct {
	events   repository.EventReader
	ingester Ingester
	accounts AccountProvisioner
	cfg      config.SeedConfig
	logger   *zap.Logger
	rng      *rand.Rand
	now      func() time.Time
}

func NewSeeder(events repository.EventReader, ingester Ingester, accounts AccountProvisioner, cfg config.SeedConfig, logger *zap.Logger) *Seeder {
	return &Seeder{
		events:   events,
		ingester: ingester,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		now:      time.Now,
	}
}

// Run seeds accounts when missing and events when the store is empty.
func (s *Seeder) Run(ctx context.Context) error {
	if err := s.seedAccounts(ctx); err != nil {
		return err
	}

	existing, err := s.events.CountEvents(ctx, repository.EventFilter{})
	if err != nil {
		return fmt.Errorf("failed to count existing events: %w", err)
	}
	if existing > 0 {
		s.logger.Debug("Event store already populated, skipping event seed", util.Int64("existing", existing))
		return nil
	}

	inputs := s.Generate(s.cfg.EventCount)
	stored := 0
	for start := 0; start < len(inputs); start += chunkSize {
		end := min(start+chunkSize, len(inputs))
		events, err := s.ingester.Ingest(ctx, inputs[start:end])
		if err != nil {
			return fmt.Errorf("failed to seed events: %w", err)
		}
		stored += len(events)
	}

	s.logger.Info("Seeded mock security events", util.Int("count", stored))
	return nil
}

func (s *Seeder) seedAccounts(ctx context.Context) error {
	if s.cfg.AdminEmail != "" && s.cfg.AdminPassword != "" {
		created, err := s.accounts.EnsureAdminUser(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}
		if created {
			s.logger.Info("Created default admin user", util.String("email", s.cfg.AdminEmail))
		}
	}
	if s.cfg.ClientEmail != "" && s.cfg.ClientPassword != "" {
		created, err := s.accounts.EnsureClientUser(ctx, s.cfg.ClientEmail, s.cfg.ClientPassword, "HavoSec Demo", models.ClientRoleAnalyst)
		if err != nil {
			return fmt.Errorf("failed to seed client user: %w", err)
		}
		if created {
			s.logger.Info("Created default client user", util.String("email", s.cfg.ClientEmail))
		}
	}
	return nil
}

// Generate returns n demo events spread uniformly over the last 30 days.
func (s *Seeder) Generate(n int) []service.EventInput {
	now := s.now().UTC()
	out := make([]service.EventInput, 0, n)
	for i := 0; i < n; i++ {
		createdAt := now.Add(-time.Duration(s.rng.Int64N(int64(seedWindow))))
		out = append(out, service.EventInput{
			EventType: string(pick(s.rng, eventTypes)),
			Severity:  string(pick(s.rng, models.Severities)),
			Source: models.EventSource{
				IP:        fmt.Sprintf("%d.%d.%d.%d", s.rng.IntN(255), s.rng.IntN(255), s.rng.IntN(255), s.rng.IntN(255)),
				Country:   pick(s.rng, countries),
				UserAgent: demoUserAgent,
			},
			Target: models.EventTarget{
				Endpoint: "/api/" + pick(s.rng, endpoints),
				Service:  pick(s.rng, services),
				Port:     pick(s.rng, ports),
			},
			Description: pick(s.rng, descriptions),
			Status:      string(pick(s.rng, statuses)),
			Tags:        []string{"automated", "high-priority", "investigation"},
			CreatedAt:   &createdAt,
		})
	}
	return out
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
