package catalog

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/config"
	"catmatch/internal/logger"
)

type Store interface {
	ListEntries(ctx context.Context) ([]internal.CatalogEntry, error)
	GetEntry(ctx context.Context, id string) (internal.CatalogEntry, error)
	GetEntryByCode(ctx context.Context, code string) (internal.CatalogEntry, error)
	ListCategories(ctx context.Context) ([]internal.Category, error)
	ListSubcategories(ctx context.Context, categoryID string) ([]internal.Subcategory, error)
	GetMetadata(ctx context.Context, key string) (*string, error)
}

type Service struct {
	store Store
	cfg   config.Config
	log   *logger.Logger

	index  atomic.Pointer[Index]
	loadMu sync.Mutex
	// ImportedAtKey value seen by the last Reload
	loadedStamp atomic.Pointer[string]
}

func NewService(store Store, cfg config.Config, log *logger.Logger) *Service {
	return &Service{store: store, cfg: cfg, log: log.With("component", "catalog")}
}

// Reload rebuilds the index from storage and swaps it in.
func (s *Service) Reload(ctx context.Context) (*Index, error) {
	stamp, err := s.importStamp(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	idx := BuildIndex(entries)
	s.index.Store(idx)
	s.loadedStamp.Store(&stamp)
	s.log.Info("catalog index loaded", "entries", idx.Len(), "tokens", len(idx.TokenToEntryIDs))
	return idx, nil
}

// ReloadIfChanged rebuilds the index when a catalog import finished after the
// current snapshot was built.
func (s *Service) ReloadIfChanged(ctx context.Context) (bool, error) {
	stamp, err := s.importStamp(ctx)
	if err != nil {
		return false, err
	}
	if loaded := s.loadedStamp.Load(); loaded != nil && *loaded == stamp {
		return false, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if _, err := s.Reload(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) importStamp(ctx context.Context) (string, error) {
	v, err := s.store.GetMetadata(ctx, ImportedAtKey)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

// Index returns the current snapshot, loading it on first use.
func (s *Service) Index(ctx context.Context) (*Index, error) {
	if idx := s.index.Load(); idx != nil {
		return idx, nil
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if idx := s.index.Load(); idx != nil {
		return idx, nil
	}
	return s.Reload(ctx)
}

func (s *Service) clampLimit(limit int) int {
	defLimit, maxLimit := s.cfg.SearchDefaultLimit, s.cfg.SearchMaxLimit
	if defLimit <= 0 {
		defLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if limit <= 0 {
		return defLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Search returns active entries relevant to text, best first.
func (s *Service) Search(ctx context.Context, text, categoryID string, limit int) ([]internal.CatalogEntry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("search catalog", "search text is required")
	}
	idx, err := s.Index(ctx)
	if err != nil {
		return nil, err
	}
	hits := idx.Search(text, strings.TrimSpace(categoryID), s.clampLimit(limit))
	out := make([]internal.CatalogEntry, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Entry)
	}
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (internal.CatalogEntry, error) {
	if strings.TrimSpace(id) == "" {
		return internal.CatalogEntry{}, apperr.Validation("get entry", "entry id is required")
	}
	return s.store.GetEntry(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (internal.CatalogEntry, error) {
	if strings.TrimSpace(code) == "" {
		return internal.CatalogEntry{}, apperr.Validation("get entry", "entry code is required")
	}
	return s.store.GetEntryByCode(ctx, strings.TrimSpace(code))
}

func (s *Service) ListCategories(ctx context.Context) ([]internal.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) ListSubcategories(ctx context.Context, categoryID string) ([]internal.Subcategory, error) {
	return s.store.ListSubcategories(ctx, strings.TrimSpace(categoryID))
}
