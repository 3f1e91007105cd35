package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
)

// Mapping sources recorded with each write
const (
	MappingSourceAPI      = "api"
	MappingSourceEnricher = "enricher"
)

// ErrInvalidMapping wraps mapping validation failures
var ErrInvalidMapping = errors.New("invalid mapping")

// MappingService is the versioned store of the product mapping
type MappingService struct {
	repo   *repository.MappingRepository
	now    func() time.Time
	logger *logrus.Entry
}

// NewMappingService creates a new mapping service
func NewMappingService(repo *repository.MappingRepository) *MappingService {
	return &MappingService{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logrus.WithField("component", "mapping"),
	}
}

// StoredMapping is a mapping together with the source of its last write
type StoredMapping struct {
	models.Mapping
	Source string `json:"source"`
}

// GetMapping returns the current mapping or repository.ErrMappingNotFound
func (s *MappingService) GetMapping(ctx context.Context) (*StoredMapping, error) {
	row, err := s.repo.GetMapping(ctx, models.DefaultMappingName)
	if err != nil {
		return nil, err
	}
	return &StoredMapping{Mapping: row.ToMapping(), Source: row.Source}, nil
}

// UpdateMapping validates and stores products. A nil expectedVersion
// overwrites whatever is stored; otherwise the write only succeeds if the
// stored version still matches.
func (s *MappingService) UpdateMapping(ctx context.Context, products []models.Product, updatedBy string, expectedVersion *int64) (*StoredMapping, error) {
	return s.save(ctx, products, updatedBy, MappingSourceAPI, expectedVersion)
}

func (s *MappingService) save(ctx context.Context, products []models.Product, updatedBy, source string, expectedVersion *int64) (*StoredMapping, error) {
	candidate := models.Mapping{Products: products}
	if err := candidate.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	version := int64(0)
	if expectedVersion != nil {
		version = *expectedVersion
	} else {
		current, err := s.repo.GetMapping(ctx, models.DefaultMappingName)
		switch {
		case err == nil:
			version = current.Version
		case !errors.Is(err, repository.ErrMappingNotFound):
			return nil, err
		}
	}

	row, err := s.repo.SaveMapping(ctx, models.DefaultMappingName, products, updatedBy, source, version, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"version":  row.Version,
		"products": len(row.Products),
		"by":       updatedBy,
		"source":   source,
	}).Info("Mapping updated")

	return &StoredMapping{Mapping: row.ToMapping(), Source: row.Source}, nil
}
