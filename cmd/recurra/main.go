package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/recurra/internal/audit"
	"github.com/smallbiznis/recurra/internal/billingevent"
	"github.com/smallbiznis/recurra/internal/billingrun"
	"github.com/smallbiznis/recurra/internal/billingschedule"
	"github.com/smallbiznis/recurra/internal/clock"
	"github.com/smallbiznis/recurra/internal/config"
	"github.com/smallbiznis/recurra/internal/dunning"
	"github.com/smallbiznis/recurra/internal/gateway"
	"github.com/smallbiznis/recurra/internal/invoicing"
	"github.com/smallbiznis/recurra/internal/logger"
	"github.com/smallbiznis/recurra/internal/migration"
	"github.com/smallbiznis/recurra/internal/notification"
	"github.com/smallbiznis/recurra/internal/paymentretry"
	"github.com/smallbiznis/recurra/internal/proration"
	"github.com/smallbiznis/recurra/internal/scheduler"
	"github.com/smallbiznis/recurra/internal/subscription"
	"github.com/smallbiznis/recurra/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Collaborators
		subscription.Module,
		invoicing.Module,
		gateway.Module,
		notification.Module,
		audit.Module,

		// Engine
		billingschedule.Module,
		billingevent.Module,
		billingrun.Module,
		paymentretry.Module,
		dunning.Module,
		proration.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
