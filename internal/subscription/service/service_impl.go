package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/recurra/internal/clock"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/recurra/internal/subscription/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptionrepo.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptionrepo.Repository
}

func NewStore(p Params) subscriptiondomain.Store {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	subID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.repo.FindByID(ctx, s.db, subID)
}

func (s *Service) UpdateBillingDates(ctx context.Context, id string, last, next time.Time) error {
	subID, err := snowflake.ParseString(id)
	if err != nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.repo.UpdateBillingDates(ctx, s.db, subID, last, next, s.clock.Now())
}

func (s *Service) Suspend(ctx context.Context, id string) error {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusSuspended)
}

func (s *Service) Terminate(ctx context.Context, id string) error {
	return s.transition(ctx, id, subscriptiondomain.SubscriptionStatusTerminated)
}

func (s *Service) Restrict(ctx context.Context, id string, level subscriptiondomain.AccessLevel) error {
	subID, err := snowflake.ParseString(id)
	if err != nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if err := s.repo.UpdateAccessLevel(ctx, s.db, subID, level, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("subscription.access_restricted",
		zap.String("subscription_id", id),
		zap.String("access_level", string(level)),
	)
	return nil
}

func (s *Service) transition(ctx context.Context, id string, status subscriptiondomain.SubscriptionStatus) error {
	subID, err := snowflake.ParseString(id)
	if err != nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	updated, err := s.repo.UpdateStatus(ctx, s.db, subID, status, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return subscriptiondomain.ErrSubscriptionTerminated
	}
	s.log.Info("subscription.status_changed",
		zap.String("subscription_id", id),
		zap.String("status", string(status)),
	)
	return nil
}
