package categorizer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"txcat/internal/cache"
	"txcat/internal/classifier"
	"txcat/internal/core"
	"txcat/internal/log"
)

type TransactionFinder interface {
	FindCategorizedByDescription(ctx context.Context, description string) (core.Transaction, error)
}

type CategoryStore interface {
	GetCategoryByName(ctx context.Context, name string) (core.Category, error)
	CreateCategory(ctx context.Context, name string) (core.Category, error)
}

// Service resolves a description to a category, preferring categories
// already given to identical descriptions over a classifier call.
type Service struct {
	transactions TransactionFinder
	categories   CategoryStore
	classifier   classifier.Classifier
	cache        *cache.LRUCache[core.Category]
	group        singleflight.Group
	logger       *log.Logger
}

// NewService wires the categorizer. categoryCache may be nil.
func NewService(transactions TransactionFinder, categories CategoryStore, c classifier.Classifier, categoryCache *cache.LRUCache[core.Category], logger *log.Logger) *Service {
	return &Service{
		transactions: transactions,
		categories:   categories,
		classifier:   c,
		cache:        categoryCache,
		logger:       logger.WithComponent(log.ComponentCategorize),
	}
}

// Categorize returns the category for description. It fails with
// core.ErrClassificationFailure only when no prior category exists and the
// classifier gave up.
//
// Concurrent calls for one description share a single lookup. The shared
// work is detached from any one caller's cancellation and is bounded by the
// classifier's retry policy instead; each caller stops waiting when its own
// ctx is done.
func (s *Service) Categorize(ctx context.Context, description string) (core.Category, error) {
	ch := s.group.DoChan(description, func() (any, error) {
		return s.categorize(context.WithoutCancel(ctx), description)
	})

	select {
	case <-ctx.Done():
		return core.Category{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return core.Category{}, r.Err
		}
		if r.Shared {
			s.logger.DebugContext(ctx, "Joined in-flight categorization", log.FieldDescription, description)
		}
		return r.Val.(core.Category), nil
	}
}

func (s *Service) categorize(ctx context.Context, description string) (core.Category, error) {
	prior, err := s.transactions.FindCategorizedByDescription(ctx, description)
	switch {
	case err == nil && prior.Category != nil:
		s.logger.InfoContext(ctx, "Reusing category of identical description",
			log.FieldDescription, description,
			log.FieldCategory, prior.Category.Name)
		return *prior.Category, nil
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return core.Category{}, fmt.Errorf("look up prior category: %w", err)
	}

	s.logger.InfoContext(ctx, "No prior category, asking classifier", log.FieldDescription, description)

	label, err := s.classifier.Classify(ctx, description)
	if err != nil {
		if errors.Is(err, core.ErrClassificationFailure) || ctx.Err() != nil {
			return core.Category{}, err
		}
		return core.Category{}, fmt.Errorf("%w: %w", core.ErrClassificationFailure, err)
	}

	return s.categoryByName(ctx, label)
}

func (s *Service) categoryByName(ctx context.Context, name string) (core.Category, error) {
	if s.cache == nil {
		return s.findOrCreate(ctx, name)
	}
	return s.cache.GetOrLoad(name, func() (core.Category, error) {
		return s.findOrCreate(ctx, name)
	})
}

func (s *Service) findOrCreate(ctx context.Context, name string) (core.Category, error) {
	cat, err := s.categories.GetCategoryByName(ctx, name)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}

	cat, err = s.categories.CreateCategory(ctx, name)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, core.ErrUniqueViolation) {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}

	// Lost the create race; the winner's row is authoritative.
	s.logger.InfoContext(ctx, "Category created concurrently, re-fetching", log.FieldCategory, name)
	cat, err = s.categories.GetCategoryByName(ctx, name)
	if err != nil {
		return core.Category{}, fmt.Errorf("re-fetch category after conflict: %w", err)
	}
	return cat, nil
}
