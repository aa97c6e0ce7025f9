package am

import (
	"context"
	"fmt"
	"strings"

	"am-go/internal/model"
)

// Service exposes the catalog operations used outside of a scan: listing,
// tagging and history. Writes here are user initiated and never overlap a
// scan's reconciliation writes on the same record set.
type Service struct {
	catalog Catalog
	logger  Logger
}

// NewService creates a Service over the given catalog.
func NewService(catalog Catalog, logger Logger) *Service {
	return &Service{catalog: catalog, logger: logger}
}

// Stats summarises the catalog.
type Stats struct {
	Addons   int
	Workshop int
}

// ListAddons returns every catalogued addon with its tags.
func (s *Service) ListAddons(ctx context.Context) ([]*model.AddonWithTags, error) {
	addons, err := s.catalog.ListAddons(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing addons: %w", err)
	}
	return addons, nil
}

// ListWorkshop returns the workshop items currently in the mirror folder.
func (s *Service) ListWorkshop(ctx context.Context) ([]*model.WorkshopItem, error) {
	items, err := s.catalog.ListWorkshopItems(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing workshop items: %w", err)
	}
	return items, nil
}

// AddTag labels the addon identified by a hex content hash.
func (s *Service) AddTag(ctx context.Context, hashHex string, tag string) error {
	hash, tag, err := s.resolveTagTarget(ctx, hashHex, tag)
	if err != nil {
		return err
	}
	if err := s.catalog.AddTag(ctx, hash, tag); err != nil {
		return fmt.Errorf("adding tag: %w", err)
	}
	s.logger.Info("tag added", "hash", hash.String(), "tag", tag)
	return nil
}

// RemoveTag removes a label from the addon identified by a hex content hash.
func (s *Service) RemoveTag(ctx context.Context, hashHex string, tag string) error {
	hash, tag, err := s.resolveTagTarget(ctx, hashHex, tag)
	if err != nil {
		return err
	}
	if err := s.catalog.RemoveTag(ctx, hash, tag); err != nil {
		return fmt.Errorf("removing tag: %w", err)
	}
	s.logger.Info("tag removed", "hash", hash.String(), "tag", tag)
	return nil
}

func (s *Service) resolveTagTarget(ctx context.Context, hashHex string, tag string) (model.ContentHash, string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, "", fmt.Errorf("tag must not be empty")
	}
	if strings.Contains(tag, ",") {
		return nil, "", fmt.Errorf("tag must not contain a comma: %q", tag)
	}

	hash, err := model.ParseContentHash(strings.TrimSpace(hashHex))
	if err != nil {
		return nil, "", fmt.Errorf("invalid content hash %q: %w", hashHex, err)
	}

	record, err := s.catalog.FindByHash(ctx, hash)
	if err != nil {
		return nil, "", fmt.Errorf("finding addon: %w", err)
	}
	if record == nil {
		return nil, "", fmt.Errorf("no addon with hash %s", hash.String())
	}
	return hash, tag, nil
}

// GetStats returns catalog counts.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	addons, workshop, err := s.catalog.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting catalog: %w", err)
	}
	return &Stats{Addons: addons, Workshop: workshop}, nil
}

// GetHistory returns the most recent scan runs, newest first.
func (s *Service) GetHistory(ctx context.Context, limit int) ([]*model.ScanRun, error) {
	runs, err := s.catalog.ListScanRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan runs: %w", err)
	}
	return runs, nil
}
