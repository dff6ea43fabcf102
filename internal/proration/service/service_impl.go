package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	"github.com/smallbiznis/recurra/internal/clock"
	prorationdomain "github.com/smallbiznis/recurra/internal/proration/domain"
	"github.com/smallbiznis/recurra/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     repository.Repository[prorationdomain.ProrationCalculation]
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     repository.Repository[prorationdomain.ProrationCalculation]
	auditSvc auditdomain.Service
}

func NewService(p Params) prorationdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("proration.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req prorationdomain.CreateCalculationRequest) (*prorationdomain.ProrationCalculation, error) {
	subscriptionID, err := snowflake.ParseString(req.SubscriptionID)
	if err != nil {
		return nil, prorationdomain.ErrCalculationNotFound
	}

	// Validate up front so a draft can never hold a rejected period.
	if _, err := prorationdomain.Calculate(calculatorInput(req)); err != nil {
		return nil, err
	}

	calc := prorationdomain.ProrationCalculation{
		ID:               s.genID.Generate(),
		SubscriptionID:   subscriptionID,
		Type:             req.Type,
		Method:           req.Method,
		Status:           prorationdomain.CalculationStatusDraft,
		EffectiveDate:    req.EffectiveDate,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		OriginalPrice:    req.OriginalPrice,
		NewPrice:         req.NewPrice,
		OriginalQuantity: req.OriginalQuantity,
		NewQuantity:      req.NewQuantity,
		FrequencyMonths:  req.FrequencyMonths,
		InputPercentage:  req.InputPercentage,
		Metadata:         req.Metadata,
	}
	if req.InvoiceID != "" {
		invoiceID, err := snowflake.ParseString(req.InvoiceID)
		if err == nil {
			calc.InvoiceID = &invoiceID
		}
	}

	if err := s.repo.Create(ctx, &calc); err != nil {
		return nil, err
	}
	s.audit(ctx, "proration.created", calc.ID, map[string]any{
		"type":   string(calc.Type),
		"method": string(calc.Method),
	})
	return &calc, nil
}

func (s *Service) Calculate(ctx context.Context, id string) (*prorationdomain.ProrationCalculation, error) {
	calc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	switch calc.Status {
	case prorationdomain.CalculationStatusDraft, prorationdomain.CalculationStatusCalculated:
	default:
		return nil, prorationdomain.ErrInvalidTransition
	}

	result, err := prorationdomain.Calculate(prorationdomain.Input{
		Type:             calc.Type,
		Method:           calc.Method,
		PeriodStart:      calc.PeriodStart,
		PeriodEnd:        calc.PeriodEnd,
		EffectiveDate:    calc.EffectiveDate,
		OriginalPrice:    calc.OriginalPrice,
		NewPrice:         calc.NewPrice,
		OriginalQuantity: calc.OriginalQuantity,
		NewQuantity:      calc.NewQuantity,
		FrequencyMonths:  calc.FrequencyMonths,
		InputPercentage:  calc.InputPercentage,
		RoundPlaces:      2,
	})
	if err != nil {
		return nil, err
	}

	finalCredit, finalCharge, net, err := prorationdomain.FinalAmounts(result, calc.OverrideCredit, calc.OverrideCharge, calc.OverrideReason)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":        prorationdomain.CalculationStatusCalculated,
		"percentage":    result.Percentage,
		"credit_amount": result.CreditAmount,
		"charge_amount": result.ChargeAmount,
		"final_credit":  finalCredit,
		"final_charge":  finalCharge,
		"net_amount":    net,
		"updated_at":    s.clock.Now(),
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	s.audit(ctx, "proration.calculated", calc.ID, map[string]any{
		"percentage": result.Percentage.String(),
		"net_amount": net.String(),
	})
	return s.find(ctx, id)
}

func (s *Service) ApplyOverride(ctx context.Context, id string, credit, charge *decimal.Decimal, reason string) (*prorationdomain.ProrationCalculation, error) {
	if (credit != nil || charge != nil) && reason == "" {
		return nil, prorationdomain.ErrOverrideNeedsReason
	}
	calc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if calc.Status != prorationdomain.CalculationStatusCalculated {
		return nil, prorationdomain.ErrInvalidTransition
	}

	finalCredit := calc.CreditAmount
	finalCharge := calc.ChargeAmount
	if credit != nil {
		finalCredit = *credit
	}
	if charge != nil {
		finalCharge = *charge
	}

	updates := map[string]any{
		"override_credit": credit,
		"override_charge": charge,
		"override_reason": reason,
		"final_credit":    finalCredit,
		"final_charge":    finalCharge,
		"net_amount":      finalCharge.Sub(finalCredit),
		"updated_at":      s.clock.Now(),
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	s.audit(ctx, "proration.overridden", calc.ID, map[string]any{"reason": reason})
	return s.find(ctx, id)
}

func (s *Service) Approve(ctx context.Context, id string) error {
	return s.transition(ctx, id, prorationdomain.CalculationStatusCalculated, prorationdomain.CalculationStatusApproved, "proration.approved")
}

func (s *Service) Apply(ctx context.Context, id string) error {
	return s.transition(ctx, id, prorationdomain.CalculationStatusApproved, prorationdomain.CalculationStatusApplied, "proration.applied")
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	calc, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if calc.Status == prorationdomain.CalculationStatusApplied {
		return prorationdomain.ErrCalculationImmutable
	}
	if calc.Status == prorationdomain.CalculationStatusCancelled {
		return nil
	}
	if err := s.repo.Update(ctx, id, map[string]any{
		"status":     prorationdomain.CalculationStatusCancelled,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return err
	}
	s.audit(ctx, "proration.cancelled", calc.ID, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*prorationdomain.ProrationCalculation, error) {
	return s.find(ctx, id)
}

func (s *Service) transition(ctx context.Context, id string, from, to prorationdomain.CalculationStatus, action string) error {
	calc, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if calc.Status == prorationdomain.CalculationStatusApplied {
		return prorationdomain.ErrCalculationImmutable
	}
	if calc.Status != from {
		return prorationdomain.ErrInvalidTransition
	}
	if err := s.repo.Update(ctx, id, map[string]any{
		"status":     to,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return err
	}
	s.audit(ctx, action, calc.ID, nil)
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*prorationdomain.ProrationCalculation, error) {
	calcID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, prorationdomain.ErrCalculationNotFound
	}
	calc, err := s.repo.FindOne(ctx, &prorationdomain.ProrationCalculation{ID: calcID})
	if err != nil {
		return nil, err
	}
	if calc == nil {
		return nil, prorationdomain.ErrCalculationNotFound
	}
	return calc, nil
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Log(ctx, auditdomain.ActorTypeSystem, "proration", action, "proration_calculation", id.String(), metadata)
}

func calculatorInput(req prorationdomain.CreateCalculationRequest) prorationdomain.Input {
	return prorationdomain.Input{
		Type:             req.Type,
		Method:           req.Method,
		PeriodStart:      req.PeriodStart,
		PeriodEnd:        req.PeriodEnd,
		EffectiveDate:    req.EffectiveDate,
		OriginalPrice:    req.OriginalPrice,
		NewPrice:         req.NewPrice,
		OriginalQuantity: req.OriginalQuantity,
		NewQuantity:      req.NewQuantity,
		FrequencyMonths:  req.FrequencyMonths,
		InputPercentage:  req.InputPercentage,
		RoundPlaces:      2,
	}
}
