package domain

import (
	"context"
	"time"
)

type CreateSequenceRequest struct {
	Name        string
	Description string
	IsDefault   bool

	CustomerCategory string
	ProductCategory  string
	SubscriptionType string

	GracePeriodDays     int
	SuspendAfterFinal   bool
	SuspensionDelayDays int

	Steps []CreateStepRequest
}

type CreateStepRequest struct {
	SequenceNo            int
	Name                  string
	DaysAfterDue          int
	DaysAfterPreviousStep int
	ActionType            ActionType
	NotificationTemplate  string
	RequiresApproval      bool
	IsFinal               bool
}

// StartProcessRequest opens collections against one overdue invoice.
// SequenceID is optional; when empty the engine selects by the
// subscription's categories. FailureReason and FailedAmount default
// to an overdue marker and the invoice's unpaid balance.
type StartProcessRequest struct {
	InvoiceID      string
	SubscriptionID string
	SequenceID     string
	FailureReason  string
	FailedAmount   int64
}

// SweepResult summarizes one due-dunning sweep.
type SweepResult struct {
	Processed int
	Errors    int
}

// StartSweepResult summarizes one overdue-invoice sweep.
type StartSweepResult struct {
	Started        int
	SkippedInGrace int
}

type Service interface {
	CreateSequence(ctx context.Context, req CreateSequenceRequest) (*DunningSequence, error)
	GetSequence(ctx context.Context, id string) (*DunningSequence, error)

	StartProcess(ctx context.Context, req StartProcessRequest) (*DunningProcess, error)
	Get(ctx context.Context, id string) (*DunningProcess, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string, reason string) error

	// ExecuteCurrentStep fires the process's pending step. Grace
	// period gating still applies.
	ExecuteCurrentStep(ctx context.Context, id string) (*DunningProcess, error)

	// MarkCustomerResponse records contact from the customer. It is
	// informational and does not pause the sequence.
	MarkCustomerResponse(ctx context.Context, id string, note string) error

	// ProcessDueDunning claims and executes every active process
	// whose next action date is at or before now.
	ProcessDueDunning(ctx context.Context, now time.Time, batchSize int) (SweepResult, error)

	// StartForOverdueInvoices opens processes for posted, unpaid
	// invoices past the overdue threshold that have none yet.
	// Unpaid invoices still inside the threshold are counted as
	// skipped, not started.
	StartForOverdueInvoices(ctx context.Context, now time.Time, batchSize int) (StartSweepResult, error)

	ListActions(ctx context.Context, processID string) ([]DunningAction, error)
}
