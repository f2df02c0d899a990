package rates

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/model"
)

type Repository interface {
	GetRate(ctx context.Context, pair model.RatePair) (*model.Rate, error)
	PutRate(ctx context.Context, rate *model.Rate) error
}

type Notifier interface {
	System(title, message, email string) bool
}

type service struct {
	repo     Repository
	notifier Notifier
	clock    cache.Clock
}

func New(repo Repository, notifier Notifier, clock cache.Clock) *service {
	if clock == nil {
		clock = cache.SystemClock
	}
	return &service{repo, notifier, clock}
}

func (s *service) Get(ctx context.Context, pair model.RatePair) (*model.Rate, error) {
	rate, err := s.repo.GetRate(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("fetching %s rate: %w", pair, err)
	}
	return rate, nil
}

func (s *service) Update(ctx context.Context, pair model.RatePair, params *model.UpdateRateParams, updatedBy string) (*model.Rate, error) {
	if params.Value <= 0 || math.IsInf(params.Value, 0) || math.IsNaN(params.Value) {
		return nil, model.ErrorInvalidRate
	}

	rate := &model.Rate{
		Pair:      pair,
		Value:     params.Value,
		Source:    strings.TrimSpace(params.Source),
		UpdatedAt: s.clock.Now().UTC(),
		UpdatedBy: updatedBy,
	}
	if err := s.repo.PutRate(ctx, rate); err != nil {
		return nil, fmt.Errorf("storing %s rate: %w", pair, err)
	}
	log.Infof("rates: %s set to %.4f by %s", pair, rate.Value, updatedBy)

	s.notifier.System("Tasa actualizada",
		fmt.Sprintf("La tasa %s se actualizó a %.2f.", pair, rate.Value), "")
	return rate, nil
}
