package service

import (
	"context"
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
	db         *gorm.DB
	clock      *clock.FakeClock
	node       *snowflake.Node
	svc        eventdomain.Service
	subID      snowflake.ID
	scheduleID snowflake.ID
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
		&eventdomain.BillingEvent{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := openTestDB(t)
	fakeClock := clock.NewFakeClock(time.Date(2024, time.April, 2, 9, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(5)
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
	invoiceSvc := invoicingservice.NewService(invoicingservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Notifier: &notification.NoOpProvider{},
	})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fakeClock,
		Repo:       eventrepo.Provide(),
		InvoiceSvc: invoiceSvc,
		SubStore:   subStore,
		AuditSvc:   auditSvc,
	})

	sub := subscriptiondomain.Subscription{
		ID:            node.Generate(),
		CustomerID:    node.Generate(),
		ProductID:     node.Generate(),
		Price:         3000,
		Quantity:      1,
		Currency:      "USD",
		Frequency:     subscriptiondomain.FrequencyMonthly,
		Status:        subscriptiondomain.SubscriptionStatusActive,
		AccessLevel:   subscriptiondomain.AccessLevelFull,
		CustomerEmail: "customer@example.com",
	}
	require.NoError(t, db.Create(&sub).Error)

	return &fixture{db: db, clock: fakeClock, node: node, svc: svc, subID: sub.ID, scheduleID: node.Generate()}
}

func (f *fixture) queueManual(t *testing.T, amount int64, description string) *eventdomain.BillingEvent {
	t.Helper()
	event, err := f.svc.CreateManual(context.Background(), eventdomain.CreateManualEventRequest{
		ScheduleID:     f.scheduleID.String(),
		SubscriptionID: f.subID.String(),
		PeriodStart:    time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		Amount:         amount,
		Description:    description,
	})
	require.NoError(t, err)
	return event
}

func TestCreateManualQueuesPendingEvent(t *testing.T) {
	f := newFixture(t)

	event := f.queueManual(t, 500, "setup fee")

	assert.Equal(t, eventdomain.EventTypeManual, event.EventType)
	assert.Equal(t, eventdomain.EventStatusPending, event.Status)
	assert.Equal(t, int64(500), event.Amount)
	assert.Equal(t, "setup fee", event.Metadata["description"])
	assert.True(t, event.EventDate.Equal(f.clock.Now()), "event date defaults to now")
}

func TestCreateManualRejectsBadPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateManual(context.Background(), eventdomain.CreateManualEventRequest{
		ScheduleID:     f.scheduleID.String(),
		SubscriptionID: f.subID.String(),
		PeriodStart:    time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		Amount:         500,
	})
	assert.ErrorIs(t, err, eventdomain.ErrInvalidPeriod)
}

func TestProcessManualEventsGeneratesInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.queueManual(t, 500, "setup fee")
	second := f.queueManual(t, 1200, "hardware")

	result, err := f.svc.ProcessManualEvents(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.Errors)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		event, err := f.svc.Get(ctx, id.String())
		require.NoError(t, err)
		assert.Equal(t, eventdomain.EventStatusCompleted, event.Status)
		require.NotNil(t, event.InvoiceID)
		require.NotNil(t, event.CompletedAt)

		var invoice invoicingdomain.Invoice
		require.NoError(t, f.db.First(&invoice, "id = ?", *event.InvoiceID).Error)
		assert.Equal(t, invoicingdomain.InvoiceStatusPosted, invoice.Status)
	}

	// Completed events leave the queue.
	again, err := f.svc.ProcessManualEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

func TestProcessManualEventsMarksFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := f.queueManual(t, 700, "consulting")
	// Subscription vanishes before the sweep runs.
	require.NoError(t, f.db.Delete(&subscriptiondomain.Subscription{}, "id = ?", f.subID).Error)

	result, err := f.svc.ProcessManualEvents(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Processed)

	reloaded, err := f.svc.Get(ctx, event.ID.String())
	require.NoError(t, err)
	assert.Equal(t, eventdomain.EventStatusFailed, reloaded.Status)
	assert.NotEmpty(t, reloaded.ErrorMessage)
}

func TestCancelPendingManualEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := f.queueManual(t, 900, "one-off")
	require.NoError(t, f.svc.Cancel(ctx, event.ID.String()))

	reloaded, err := f.svc.Get(ctx, event.ID.String())
	require.NoError(t, err)
	assert.Equal(t, eventdomain.EventStatusCancelled, reloaded.Status)

	// Cancelled events are immutable and never swept.
	assert.ErrorIs(t, f.svc.Cancel(ctx, event.ID.String()), eventdomain.ErrInvalidTransition)
	result, err := f.svc.ProcessManualEvents(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}
