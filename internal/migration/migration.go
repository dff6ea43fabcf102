// Package migration creates the engine's schema on startup so local
// and self-hosted installs work out of the box.
package migration

import (
	auditdomain "github.com/smallbiznis/recurra/internal/audit/domain"
	eventdomain "github.com/smallbiznis/recurra/internal/billingevent/domain"
	rundomain "github.com/smallbiznis/recurra/internal/billingrun/domain"
	scheduledomain "github.com/smallbiznis/recurra/internal/billingschedule/domain"
	dunningdomain "github.com/smallbiznis/recurra/internal/dunning/domain"
	invoicingdomain "github.com/smallbiznis/recurra/internal/invoicing/domain"
	retrydomain "github.com/smallbiznis/recurra/internal/paymentretry/domain"
	prorationdomain "github.com/smallbiznis/recurra/internal/proration/domain"
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"gorm.io/gorm"
)

func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&scheduledomain.BillingSchedule{},
		&eventdomain.BillingEvent{},
		&rundomain.BillingRun{},
		&rundomain.BillingRunError{},
		&retrydomain.PaymentRetry{},
		&retrydomain.PaymentRetryAttempt{},
		&dunningdomain.DunningSequence{},
		&dunningdomain.DunningStep{},
		&dunningdomain.DunningProcess{},
		&dunningdomain.DunningAction{},
		&prorationdomain.ProrationCalculation{},
		&invoicingdomain.Invoice{},
		&invoicingdomain.InvoiceLine{},
		&auditdomain.AuditLog{},
	); err != nil {
		return err
	}

	// One live dunning process per invoice, one default sequence.
	// MySQL has no partial indexes; there the service-level count
	// checks stand alone.
	if db.Dialector.Name() == "mysql" {
		return nil
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_dunning_processes_active_invoice
		 ON dunning_processes (invoice_id)
		 WHERE status IN ('ACTIVE', 'PAUSED', 'ESCALATED')`,
	).Error; err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_dunning_sequences_single_default
		 ON dunning_sequences (is_default)
		 WHERE is_default`,
	).Error
}
