package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	auditrepo "github.com/smallbiznis/recurra/internal/audit/repository"
	auditservice "github.com/smallbiznis/recurra/internal/audit/service"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	eventrepo "github.com/smallbiznis/recurra/internal/billingevent/repository"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	schedulerepo "github.com/smallbiznis/recurra/internal/billingschedule/repository"
	"github.com/smallbiznis/recurra/internal/clock"
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

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	svc   scheduledomain.Service
	subID snowflake.ID
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache keeps every pooled connection on the same database;
	// a plain :memory: DSN gives each connection its own empty one.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
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
		&scheduledomain.BillingSchedule{},
		&eventdomain.BillingEvent{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	))
	return db
}

func newFixture(t *testing.T, invoiceSvc invoicingdomain.Service) *fixture {
	t.Helper()

	db := openTestDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	log := zap.NewNop()

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
	if invoiceSvc == nil {
		invoiceSvc = invoicingservice.NewService(invoicingservice.Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    fakeClock,
			Notifier: &notification.NoOpProvider{},
		})
	}

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fakeClock,
		Repo:       schedulerepo.Provide(),
		EventRepo:  eventrepo.Provide(),
		SubRepo:    subscriptionrepo.Provide(),
		SubStore:   subStore,
		InvoiceSvc: invoiceSvc,
		AuditSvc:   auditSvc,
	})

	sub := subscriptiondomain.Subscription{
		ID:            node.Generate(),
		CustomerID:    node.Generate(),
		ProductID:     node.Generate(),
		Price:         1999,
		Quantity:      2,
		Currency:      "USD",
		Frequency:     subscriptiondomain.FrequencyMonthly,
		Status:        subscriptiondomain.SubscriptionStatusActive,
		AccessLevel:   subscriptiondomain.AccessLevelFull,
		CustomerEmail: "customer@example.com",
	}
	require.NoError(t, db.Create(&sub).Error)

	return &fixture{db: db, clock: fakeClock, node: node, svc: svc, subID: sub.ID}
}

func (f *fixture) activeSchedule(t *testing.T, startDate time.Time) *scheduledomain.BillingSchedule {
	t.Helper()
	schedule, err := f.svc.Create(context.Background(), scheduledomain.CreateScheduleRequest{
		SubscriptionID:      f.subID.String(),
		Frequency:           string(subscriptiondomain.FrequencyMonthly),
		StartDate:           startDate,
		AutoGenerateInvoice: true,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Activate(context.Background(), schedule.ID.String()))
	schedule, err = f.svc.Get(context.Background(), schedule.ID.String())
	require.NoError(t, err)
	return schedule
}

type failingInvoicing struct{}

var errGatewayDown = errors.New("invoice backend unavailable")

func (f *failingInvoicing) CreateInvoice(ctx context.Context, req invoicingdomain.CreateInvoiceRequest) (*invoicingdomain.Invoice, error) {
	return nil, errGatewayDown
}
func (f *failingInvoicing) Post(ctx context.Context, invoiceID string) error { return errGatewayDown }
func (f *failingInvoicing) Send(ctx context.Context, invoiceID, recipient string) (bool, error) {
	return false, errGatewayDown
}
func (f *failingInvoicing) ApplyPayment(ctx context.Context, invoiceID string, amount int64, paymentRef string) error {
	return errGatewayDown
}
func (f *failingInvoicing) ResidualAmount(ctx context.Context, invoiceID string) (int64, error) {
	return 0, errGatewayDown
}
func (f *failingInvoicing) DueDate(ctx context.Context, invoiceID string) (time.Time, error) {
	return time.Time{}, errGatewayDown
}
func (f *failingInvoicing) PaymentState(ctx context.Context, invoiceID string) (invoicingdomain.PaymentState, error) {
	return "", errGatewayDown
}
func (f *failingInvoicing) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]invoicingdomain.Invoice, error) {
	return nil, errGatewayDown
}

func TestProcessBillingAdvancesDates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	schedule := f.activeSchedule(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	billingDate := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	result, err := f.svc.ProcessBilling(ctx, schedule.ID.String(), billingDate)
	require.NoError(t, err)
	require.NotNil(t, result.InvoiceID)
	assert.Equal(t, int64(1999*2), result.Amount)
	assert.True(t, result.NextBillingDate.After(billingDate), "next billing date must move past the processed date")

	reloaded, err := f.svc.Get(ctx, schedule.ID.String())
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastBillingDate)
	assert.True(t, reloaded.LastBillingDate.Equal(billingDate))
	assert.True(t, reloaded.NextBillingDate.After(billingDate))

	var event eventdomain.BillingEvent
	require.NoError(t, f.db.First(&event, "schedule_id = ?", schedule.ID).Error)
	assert.Equal(t, eventdomain.EventStatusCompleted, event.Status)
	require.NotNil(t, event.InvoiceID)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", f.subID).Error)
	require.NotNil(t, sub.NextBillingDate)
	assert.True(t, sub.NextBillingDate.After(billingDate))
}

func TestProcessBillingNotDue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	schedule := f.activeSchedule(t, time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.ProcessBilling(ctx, schedule.ID.String(), time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, scheduledomain.ErrScheduleNotDue)

	var count int64
	require.NoError(t, f.db.Model(&eventdomain.BillingEvent{}).Count(&count).Error)
	assert.Zero(t, count, "guard misses must not record failed events")
}

func TestProcessBillingFailureLeavesDatesUntouched(t *testing.T) {
	f := newFixture(t, &failingInvoicing{})
	ctx := context.Background()

	startDate := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	schedule := f.activeSchedule(t, startDate)

	_, err := f.svc.ProcessBilling(ctx, schedule.ID.String(), time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	reloaded, err := f.svc.Get(ctx, schedule.ID.String())
	require.NoError(t, err)
	assert.Nil(t, reloaded.LastBillingDate)
	assert.True(t, reloaded.NextBillingDate.Equal(startDate))

	var event eventdomain.BillingEvent
	require.NoError(t, f.db.First(&event, "schedule_id = ?", schedule.ID).Error)
	assert.Equal(t, eventdomain.EventStatusFailed, event.Status)
	assert.Contains(t, event.ErrorMessage, "invoice backend unavailable")
}

func TestActivateEnforcesSingleActiveSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.activeSchedule(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))

	second, err := f.svc.Create(ctx, scheduledomain.CreateScheduleRequest{
		SubscriptionID: f.subID.String(),
		Frequency:      string(subscriptiondomain.FrequencyMonthly),
		StartDate:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	err = f.svc.Activate(ctx, second.ID.String())
	assert.ErrorIs(t, err, scheduledomain.ErrActiveScheduleExists)
}

func TestScheduleStateMachine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	schedule := f.activeSchedule(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC))
	id := schedule.ID.String()

	require.NoError(t, f.svc.Pause(ctx, id))
	assert.ErrorIs(t, f.svc.Pause(ctx, id), scheduledomain.ErrInvalidTransition)
	require.NoError(t, f.svc.Resume(ctx, id))
	require.NoError(t, f.svc.Cancel(ctx, id))
	assert.ErrorIs(t, f.svc.Resume(ctx, id), scheduledomain.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.Cancel(ctx, id), scheduledomain.ErrInvalidTransition)
}
