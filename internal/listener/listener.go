package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	"catmatch/internal/blobstore"
	"catmatch/internal/config"
	"catmatch/internal/connectors"
	gmailconnector "catmatch/internal/connectors/gmail"
	imapconnector "catmatch/internal/connectors/imap"
	"catmatch/internal/logger"
)

// Service polls the mailbox and feeds new messages to intake on a fixed
// interval.
type Service struct {
	cfg    config.Config
	fetch  *connectors.FetchService
	intake *Intake
	log    *logger.Logger
}

func NewService(cfg config.Config, store MailStore, blobs blobstore.Store, connector connectors.MailConnector, intake *Intake, log *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		fetch:  connectors.NewFetchService(store, blobs, connector),
		intake: intake,
		log:    log.With("component", "mail-listener"),
	}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("listener cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

type CycleResult struct {
	connectors.FetchResult
	IntakeResult
}

// RunCycle fetches once and processes whatever is pending, including
// messages left over from earlier cycles.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	fetched, err := s.fetch.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return CycleResult{FetchResult: fetched}, err
	}
	processed, err := s.intake.ProcessPending(ctx, s.cfg.MailListenerFetchMax)
	res := CycleResult{FetchResult: fetched, IntakeResult: processed}
	if err != nil {
		return res, err
	}

	s.log.Info("listener cycle done",
		"provider", s.cfg.MailListenerProvider,
		"fetched", fetched.Fetched,
		"stored", fetched.Stored,
		"messages", processed.Messages,
		"uploads", processed.Uploads,
		"skipped", processed.Skipped,
		"failed", processed.Failed,
	)
	return res, nil
}

// NewConnector builds the connector named by MAIL_LISTENER_PROVIDER.
func NewConnector(ctx context.Context, cfg config.Config) (connectors.MailConnector, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.MailListenerProvider)); provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported listener provider: %s", provider)
	}
}
