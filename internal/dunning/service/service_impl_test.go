package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	auditrepo "github.com/smallbiznis/recurra/internal/audit/repository"
	auditservice "github.com/smallbiznis/recurra/internal/audit/service"
	"github.com/smallbiznis/recurra/internal/clock"
	"github.com/smallbiznis/recurra/internal/config"
	dunningdomain "github.com/smallbiznis/recurra/internal/dunning/domain"
	dunningrepo "github.com/smallbiznis/recurra/internal/dunning/repository"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	invoicingservice "github.com/smallbiznis/recurra/internal/invoicing/service"
	"github.com/smallbiznis/recurra/internal/notification"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/recurra/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/recurra/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []string
	err    error
	onSend func()
}

func (n *recordingNotifier) Send(ctx context.Context, templateID string, recipient string, data map[string]any) error {
	if fn := n.onSend; fn != nil {
		fn()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, templateID)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type fixture struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	node       *snowflake.Node
	svc        dunningdomain.Service
	invoiceSvc invoicingdomain.Service
	subStore   subscriptiondomain.Store
	notifier   *recordingNotifier
	subID      snowflake.ID
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// SQLite support hack: remove FOR UPDATE clauses
	stripLock := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(sql)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLock))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLock))

	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceLine{},
		&auditdomain.AuditLog{},
		&dunningdomain.DunningSequence{},
		&dunningdomain.DunningStep{},
		&dunningdomain.DunningProcess{},
		&dunningdomain.DunningAction{},
	))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := openTestDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2024, time.January, 10, 10, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	log := zap.NewNop()
	notifier := &recordingNotifier{}

	subStore := subscriptionservice.NewStore(subscriptionservice.Params{
		DB:    db,
		Log:   log,
		Clock: fakeClock,
		Repo:  subscriptionrepo.Provide(),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	invoiceSvc := invoicingservice.NewService(invoicingservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Notifier: &notification.NoOpProvider{},
	})

	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		Repo:        dunningrepo.Provide(),
		InvoiceSvc:  invoiceSvc,
		SubStore:    subStore,
		AuditSvc:    auditSvc,
		Notifier:    notifier,
		Collections: config.NewStaticCollectionsConfigHolder(config.DefaultCollectionsConfig()),
	})

	sub := subscriptiondomain.Subscription{
		ID:               node.Generate(),
		CustomerID:       node.Generate(),
		ProductID:        node.Generate(),
		Price:            4900,
		Quantity:         1,
		Currency:         "USD",
		Frequency:        subscriptiondomain.FrequencyMonthly,
		Status:           subscriptiondomain.SubscriptionStatusActive,
		AccessLevel:      subscriptiondomain.AccessLevelFull,
		CustomerCategory: "smb",
		ProductCategory:  "saas",
		CustomerEmail:    "customer@example.com",
		PaymentMethod:    "card_1234",
	}
	require.NoError(t, db.Create(&sub).Error)

	return &fixture{
		db:         db,
		clock:      fakeClock,
		node:       node,
		svc:        svc,
		invoiceSvc: invoiceSvc,
		subStore:   subStore,
		notifier:   notifier,
		subID:      sub.ID,
	}
}

// overdueInvoice posts an invoice due Jan 25 while the clock is still
// ahead of the due date.
func (f *fixture) overdueInvoice(t *testing.T, amount int64) *invoicingdomain.Invoice {
	t.Helper()
	return f.invoiceDue(t, amount, time.Date(2024, time.January, 25, 0, 0, 0, 0, time.UTC))
}

func (f *fixture) invoiceDue(t *testing.T, amount int64, due time.Time) *invoicingdomain.Invoice {
	t.Helper()
	invoice, err := f.invoiceSvc.CreateInvoice(context.Background(), invoicingdomain.CreateInvoiceRequest{
		CustomerID:     f.node.Generate().String(),
		SubscriptionID: f.subID.String(),
		Currency:       "USD",
		PeriodStart:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		DueDate:        due,
		Lines: []invoicingdomain.LineItem{{
			Description: "Subscription Jan 2024",
			Quantity:    1,
			UnitAmount:  amount,
		}},
	})
	require.NoError(t, err)
	require.NoError(t, f.invoiceSvc.Post(context.Background(), invoice.ID.String()))
	return invoice
}

func (f *fixture) standardSequence(t *testing.T) *dunningdomain.DunningSequence {
	t.Helper()
	sequence, err := f.svc.CreateSequence(context.Background(), dunningdomain.CreateSequenceRequest{
		Name:      "standard",
		IsDefault: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "friendly reminder", DaysAfterDue: 3, ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_reminder"},
			{SequenceNo: 2, Name: "restrict access", DaysAfterPreviousStep: 5, ActionType: dunningdomain.ActionNotifyRestrict, NotificationTemplate: "dunning_warning"},
			{SequenceNo: 3, Name: "suspend service", DaysAfterPreviousStep: 7, ActionType: dunningdomain.ActionSuspend, IsFinal: true},
		},
	})
	require.NoError(t, err)
	return sequence
}

func (f *fixture) startProcess(t *testing.T, invoiceID snowflake.ID) *dunningdomain.DunningProcess {
	t.Helper()
	process, err := f.svc.StartProcess(context.Background(), dunningdomain.StartProcessRequest{
		InvoiceID:      invoiceID.String(),
		SubscriptionID: f.subID.String(),
	})
	require.NoError(t, err)
	return process
}

func TestStartProcessDerivesDates(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)

	// Payment failed Feb 1; grace 7 days, suspension delay 3 days.
	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	sequence, err := f.svc.CreateSequence(context.Background(), dunningdomain.CreateSequenceRequest{
		Name:              "with-suspension",
		SuspendAfterFinal: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "final notice", ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_final", IsFinal: true},
		},
	})
	require.NoError(t, err)

	process, err := f.svc.StartProcess(context.Background(), dunningdomain.StartProcessRequest{
		InvoiceID:      invoice.ID.String(),
		SubscriptionID: f.subID.String(),
		SequenceID:     sequence.ID.String(),
	})
	require.NoError(t, err)

	assert.True(t, process.GraceEndDate.Equal(time.Date(2024, time.February, 8, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, process.SuspensionDate)
	assert.True(t, process.SuspensionDate.Equal(time.Date(2024, time.February, 12, 0, 0, 0, 0, time.UTC)),
		"suspension projects three days past the scheduled final step")
	require.NotNil(t, process.NextActionDate)
	assert.True(t, process.NextActionDate.Equal(time.Date(2024, time.February, 9, 0, 0, 0, 0, time.UTC)),
		"first action waits out the grace period")
	assert.Equal(t, "invoice_overdue", process.FailureReason)
	assert.Equal(t, int64(4900), process.FailedAmount, "defaults to the invoice's unpaid balance")
}

func TestStartProcessRejectsDuplicatesAndPaidInvoices(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	paid := f.overdueInvoice(t, 1000)
	require.NoError(t, f.invoiceSvc.ApplyPayment(context.Background(), paid.ID.String(), 1000, "wire-1"))

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	f.startProcess(t, invoice.ID)

	_, err := f.svc.StartProcess(context.Background(), dunningdomain.StartProcessRequest{
		InvoiceID:      invoice.ID.String(),
		SubscriptionID: f.subID.String(),
	})
	assert.ErrorIs(t, err, dunningdomain.ErrActiveProcessExists)

	_, err = f.svc.StartProcess(context.Background(), dunningdomain.StartProcessRequest{
		InvoiceID:      paid.ID.String(),
		SubscriptionID: f.subID.String(),
	})
	assert.ErrorIs(t, err, dunningdomain.ErrInvoiceNotOverdue)
}

func TestExecuteCurrentStepBlockedByGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	f.clock.Set(time.Date(2024, time.February, 5, 9, 0, 0, 0, time.UTC))
	_, err := f.svc.ExecuteCurrentStep(context.Background(), process.ID.String())
	assert.ErrorIs(t, err, dunningdomain.ErrInGracePeriod)
	assert.Empty(t, f.notifier.templates())
}

func TestStepProgressionThroughSuspension(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	// Step 1: reminder notification.
	f.clock.Set(time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC))
	updated, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{"dunning_reminder"}, f.notifier.templates())
	assert.Equal(t, 2, updated.CurrentStepNo)
	require.NotNil(t, updated.NextActionDate)
	assert.True(t, updated.NextActionDate.Equal(time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)),
		"step 2 anchors to the previous execution")

	// Step 2: warning plus access restriction.
	f.clock.Set(time.Date(2024, time.February, 14, 9, 0, 0, 0, time.UTC))
	updated, err = f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentStepNo)

	sub, err := f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.AccessLevelRestricted, sub.AccessLevel)

	// Step 3: suspension completes the sequence.
	f.clock.Set(time.Date(2024, time.February, 21, 9, 0, 0, 0, time.UTC))
	updated, err = f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)

	sub, err = f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, sub.Status)
	assert.Equal(t, subscriptiondomain.AccessLevelNone, sub.AccessLevel)

	actions, err := f.svc.ListActions(ctx, process.ID.String())
	require.NoError(t, err)
	require.Len(t, actions, 3)
	for _, action := range actions {
		assert.Equal(t, dunningdomain.ActionStatusExecuted, action.Status)
	}
	assert.Equal(t, 2, updated.NotificationsSent, "the suspend step has no template")
}

func TestTrailingSuspensionAfterFinalNotice(t *testing.T) {
	f := newFixture(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	sequence, err := f.svc.CreateSequence(ctx, dunningdomain.CreateSequenceRequest{
		Name:              "notice-then-suspend",
		IsDefault:         true,
		SuspendAfterFinal: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "final notice", ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_final", IsFinal: true},
		},
	})
	require.NoError(t, err)
	_ = sequence
	process := f.startProcess(t, invoice.ID)

	f.clock.Set(time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC))
	updated, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusActive, updated.Status,
		"process stays open until the suspension date")
	require.NotNil(t, updated.NextActionDate)
	assert.True(t, updated.NextActionDate.Equal(time.Date(2024, time.February, 12, 0, 0, 0, 0, time.UTC)),
		"suspension waits the full delay after the notice")
	require.NotNil(t, updated.SuspensionDate)
	assert.True(t, updated.SuspensionDate.Equal(time.Date(2024, time.February, 12, 0, 0, 0, 0, time.UTC)))

	f.clock.Set(time.Date(2024, time.February, 12, 9, 0, 0, 0, time.UTC))
	updated, err = f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusCompleted, updated.Status)

	sub, err := f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, sub.Status)
}

func TestApprovalStepEscalates(t *testing.T) {
	f := newFixture(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	_, err := f.svc.CreateSequence(ctx, dunningdomain.CreateSequenceRequest{
		Name:      "terminate-with-approval",
		IsDefault: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "terminate", ActionType: dunningdomain.ActionTerminate, RequiresApproval: true, IsFinal: true},
		},
	})
	require.NoError(t, err)
	process := f.startProcess(t, invoice.ID)

	f.clock.Set(time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC))
	updated, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusEscalated, updated.Status)

	sub, err := f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status,
		"no subscription change without operator approval")

	actions, err := f.svc.ListActions(ctx, process.ID.String())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dunningdomain.ActionStatusSkipped, actions[0].Status)

	// Operator approval resumes the process.
	require.NoError(t, f.svc.Resume(ctx, process.ID.String()))
	reloaded, err := f.svc.Get(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusActive, reloaded.Status)
}

func TestPaidInvoiceResolvesProcess(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	require.NoError(t, f.invoiceSvc.ApplyPayment(ctx, invoice.ID.String(), 4900, "wire-2"))

	f.clock.Set(time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC))
	updated, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusCompleted, updated.Status)
	assert.Empty(t, f.notifier.templates(), "a settled invoice triggers no dunning contact")
}

func TestNotificationFailureRetriesLater(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	f.notifier.err = assert.AnError
	executeAt := time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC)
	f.clock.Set(executeAt)
	_, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.Error(t, err)

	reloaded, err := f.svc.Get(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusActive, reloaded.Status)
	assert.Equal(t, 1, reloaded.CurrentStepNo, "a failed action does not advance the sequence")
	require.NotNil(t, reloaded.NextActionDate)
	assert.True(t, reloaded.NextActionDate.Equal(executeAt.Add(24*time.Hour)))

	actions, err := f.svc.ListActions(ctx, process.ID.String())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, dunningdomain.ActionStatusFailed, actions[0].Status)
}

func TestProcessDueDunningSweep(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	sweepAt := time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC)
	f.clock.Set(sweepAt)
	result, err := f.svc.ProcessDueDunning(ctx, sweepAt, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Errors)
	assert.Equal(t, []string{"dunning_reminder"}, f.notifier.templates())

	reloaded, err := f.svc.Get(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentStepNo)

	// Nothing left due; a second sweep is a no-op.
	result, err = f.svc.ProcessDueDunning(ctx, sweepAt, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestStartForOverdueInvoices(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	first := f.overdueInvoice(t, 4900)
	second := f.overdueInvoice(t, 2500)
	paid := f.overdueInvoice(t, 1000)
	// Due this morning: unpaid but still inside the overdue threshold.
	fresh := f.invoiceDue(t, 3000, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, f.invoiceSvc.ApplyPayment(ctx, paid.ID.String(), 1000, "wire-3"))
	_ = first
	_ = second
	_ = fresh

	now := time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
	f.clock.Set(now)

	result, err := f.svc.StartForOverdueInvoices(ctx, now, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Started)
	assert.Equal(t, 1, result.SkippedInGrace)

	result, err = f.svc.StartForOverdueInvoices(ctx, now, 50)
	require.NoError(t, err)
	assert.Zero(t, result.Started, "existing processes are not duplicated")
	assert.Equal(t, 1, result.SkippedInGrace, "the fresh invoice stays skipped until past threshold")
}

func TestSuspensionTrailsLateFinalStep(t *testing.T) {
	f := newFixture(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	_, err := f.svc.CreateSequence(ctx, dunningdomain.CreateSequenceRequest{
		Name:              "late-notice-then-suspend",
		IsDefault:         true,
		SuspendAfterFinal: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "final notice", DaysAfterDue: 20, ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_final", IsFinal: true},
		},
	})
	require.NoError(t, err)
	process := f.startProcess(t, invoice.ID)
	require.NotNil(t, process.NextActionDate)
	assert.True(t, process.NextActionDate.Equal(time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)),
		"the only step lands well past the grace window")
	require.NotNil(t, process.SuspensionDate)
	assert.True(t, process.SuspensionDate.Equal(time.Date(2024, time.February, 17, 0, 0, 0, 0, time.UTC)))

	// The notice fires after the grace window closed; the suspension
	// still waits the full delay from that execution.
	f.clock.Set(time.Date(2024, time.February, 14, 9, 0, 0, 0, time.UTC))
	updated, err := f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusActive, updated.Status)
	require.NotNil(t, updated.NextActionDate)
	assert.True(t, updated.NextActionDate.Equal(time.Date(2024, time.February, 17, 0, 0, 0, 0, time.UTC)))

	sub, err := f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status,
		"no suspension on the day the notice goes out")

	f.clock.Set(time.Date(2024, time.February, 17, 9, 0, 0, 0, time.UTC))
	updated, err = f.svc.ExecuteCurrentStep(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, dunningdomain.ProcessStatusCompleted, updated.Status)

	sub, err = f.subStore.Get(ctx, f.subID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusSuspended, sub.Status)
}

func TestSweepClaimSurvivesCommit(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	sweepAt := time.Date(2024, time.February, 9, 9, 0, 0, 0, time.UTC)
	f.clock.Set(sweepAt)

	// A second sweep arriving mid-step must find nothing to claim even
	// though the claiming transaction has long since committed.
	var overlap dunningdomain.SweepResult
	f.notifier.onSend = func() {
		f.notifier.onSend = nil
		var err error
		overlap, err = f.svc.ProcessDueDunning(ctx, sweepAt, 10)
		require.NoError(t, err)
	}

	result, err := f.svc.ProcessDueDunning(ctx, sweepAt, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, overlap.Processed, "claimed work is invisible to an overlapping sweep")
	assert.Equal(t, []string{"dunning_reminder"}, f.notifier.templates(), "the step ran exactly once")

	reloaded, err := f.svc.Get(ctx, process.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentStepNo)
}

func TestCreateSequenceRejectsSecondDefault(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)

	_, err := f.svc.CreateSequence(context.Background(), dunningdomain.CreateSequenceRequest{
		Name:      "another-default",
		IsDefault: true,
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "notice", ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_reminder", IsFinal: true},
		},
	})
	assert.ErrorIs(t, err, dunningdomain.ErrDefaultSequenceExists)

	// Non-default sequences are unlimited.
	_, err = f.svc.CreateSequence(context.Background(), dunningdomain.CreateSequenceRequest{
		Name: "enterprise",
		Steps: []dunningdomain.CreateStepRequest{
			{SequenceNo: 1, Name: "notice", ActionType: dunningdomain.ActionNotify, NotificationTemplate: "dunning_reminder", IsFinal: true},
		},
	})
	assert.NoError(t, err)
}

func TestMarkCustomerResponse(t *testing.T) {
	f := newFixture(t)
	f.standardSequence(t)
	invoice := f.overdueInvoice(t, 4900)
	ctx := context.Background()

	f.clock.Set(time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC))
	process := f.startProcess(t, invoice.ID)

	require.NoError(t, f.svc.MarkCustomerResponse(ctx, process.ID.String(), "promised to pay friday"))
	reloaded, err := f.svc.Get(ctx, process.ID.String())
	require.NoError(t, err)
	assert.True(t, reloaded.CustomerResponded)
	assert.Equal(t, "promised to pay friday", reloaded.CustomerNote)
	assert.Equal(t, dunningdomain.ProcessStatusActive, reloaded.Status,
		"a response is informational and does not pause collections")
}
