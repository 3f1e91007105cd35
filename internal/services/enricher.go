package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/models"
	"github.com/rebelsmuggling/flowtrac-shopify-inventory-sync-sub001/internal/repository"
)

// EnrichmentFailure is a listing whose identifiers could not be found
type EnrichmentFailure struct {
	Channel    models.ChannelType `json:"channel"`
	ChannelSKU string             `json:"channel_sku"`
	Error      string             `json:"error"`
}

// EnrichmentReport summarizes one enrichment pass
type EnrichmentReport struct {
	Checked  int                 `json:"checked"`
	Enriched int                 `json:"enriched"`
	Failures []EnrichmentFailure `json:"failures,omitempty"`
	Saved    bool                `json:"saved"`
	Version  int64               `json:"version"`
}

// Enricher backfills channel identifiers into the mapping
type Enricher struct {
	mappings   *MappingService
	dispatcher *Dispatcher
	logger     *logrus.Entry
}

// NewEnricher creates a new enricher
func NewEnricher(mappings *MappingService, dispatcher *Dispatcher) *Enricher {
	return &Enricher{
		mappings:   mappings,
		dispatcher: dispatcher,
		logger:     logrus.WithField("component", "enricher"),
	}
}

// Enrich looks up identifiers for every listing that cannot be updated
// as-is and writes what it finds back with a version-checked update. A
// concurrent mapping edit wins; the lookups are retried next cycle.
func (e *Enricher) Enrich(ctx context.Context) (*EnrichmentReport, error) {
	stored, err := e.mappings.GetMapping(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}

	report := &EnrichmentReport{Version: stored.Version}
	products := make([]models.Product, len(stored.Products))
	copy(products, stored.Products)

	for i := range products {
		for _, ch := range e.dispatcher.Channels() {
			listing, ok := products[i].Listing(ch)
			if !ok {
				continue
			}
			client, _ := e.dispatcher.Client(ch)
			if client.CheckIdentifiers(listing) == nil {
				continue
			}
			report.Checked++

			found, err := client.LookupIdentifiers(ctx, listing)
			if err == nil {
				err = client.CheckIdentifiers(found)
			}
			if err != nil {
				report.Failures = append(report.Failures, EnrichmentFailure{
					Channel:    ch,
					ChannelSKU: products[i].ChannelSKU,
					Error:      err.Error(),
				})
				continue
			}

			products[i] = withListing(products[i], found)
			report.Enriched++
		}
	}

	if report.Enriched == 0 {
		return report, nil
	}

	version := stored.Version
	saved, err := e.mappings.save(ctx, products, "self-healing-enricher", MappingSourceEnricher, &version)
	if errors.Is(err, repository.ErrMappingVersionConflict) {
		e.logger.WithField("version", version).Warn("Mapping changed during enrichment, identifiers not saved")
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("failed to save enriched mapping: %w", err)
	}

	report.Saved = true
	report.Version = saved.Version
	e.logger.WithFields(logrus.Fields{
		"enriched": report.Enriched,
		"failed":   len(report.Failures),
		"version":  saved.Version,
	}).Info("Mapping enriched")
	return report, nil
}

// withListing returns a copy of p with listing replaced, leaving the
// caller's Listings slice untouched
func withListing(p models.Product, listing models.ChannelListing) models.Product {
	listings := make([]models.ChannelListing, len(p.Listings))
	copy(listings, p.Listings)
	p.Listings = listings
	p.SetListing(listing)
	return p
}
