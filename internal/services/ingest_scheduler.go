package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/ingest"
	"github.com/reponaut/edugain/internal/metadata"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/pkg/debug"
)

// IngestScheduler refreshes the IdP registry from the federation metadata
// feed on a cron schedule.
type IngestScheduler struct {
	cfg  *config.Config
	idps *repository.IdPRepository

	cron    *cron.Cron
	running bool
	mu      sync.Mutex
}

// NewIngestScheduler creates a new metadata ingestion scheduler.
func NewIngestScheduler(cfg *config.Config, idps *repository.IdPRepository) *IngestScheduler {
	return &IngestScheduler{
		cfg:  cfg,
		idps: idps,
		cron: cron.New(),
	}
}

// Start registers the ingestion job and starts the cron loop.
func (s *IngestScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("ingest scheduler already running")
	}

	if s.cfg.IngestSchedule == "" {
		debug.Info("No ingest schedule configured, scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.IngestSchedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid ingest schedule %q: %w", s.cfg.IngestSchedule, err)
	}

	s.cron.Start()
	s.running = true
	debug.Info("Ingest scheduler started with schedule %q for %s", s.cfg.IngestSchedule, s.cfg.MetadataURL)
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	debug.Info("Ingest scheduler stopped")
}

// RunNow triggers a single ingestion outside the schedule.
func (s *IngestScheduler) RunNow(ctx context.Context) error {
	return s.ingest(ctx)
}

func (s *IngestScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.ingest(ctx); err != nil {
		debug.Error("Scheduled metadata ingestion failed: %v", err)
	}
}

func (s *IngestScheduler) ingest(ctx context.Context) error {
	started := time.Now()
	debug.Info("Starting metadata ingestion from %s", s.cfg.MetadataURL)

	loader := metadata.NewLoader(s.cfg.HTTPTimeout)
	store, err := loader.Load(ctx, s.cfg.MetadataURL, s.cfg.MetadataCertURL, s.cfg.CertFingerprint)
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	report, err := ingest.Run(ctx, store, s.idps)
	if err != nil {
		return fmt.Errorf("failed to reconcile metadata: %w", err)
	}

	debug.Info("Metadata ingestion finished in %s: %d added, %d updated, %d unchanged",
		time.Since(started).Round(time.Millisecond), len(report.Added), len(report.Updated), len(report.Unchanged))
	return nil
}
