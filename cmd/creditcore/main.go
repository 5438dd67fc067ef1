package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/smallbiznis/creditcore/internal/events"
	"github.com/smallbiznis/creditcore/internal/feature"
	"github.com/smallbiznis/creditcore/internal/ledger"
	"github.com/smallbiznis/creditcore/internal/migration"
	"github.com/smallbiznis/creditcore/internal/observability"
	"github.com/smallbiznis/creditcore/internal/payment"
	"github.com/smallbiznis/creditcore/internal/pricing"
	"github.com/smallbiznis/creditcore/internal/ratelimit"
	"github.com/smallbiznis/creditcore/internal/restoration"
	"github.com/smallbiznis/creditcore/internal/scheduler"
	"github.com/smallbiznis/creditcore/internal/server"
	"github.com/smallbiznis/creditcore/internal/usage"
	"github.com/smallbiznis/creditcore/internal/user"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Functional Domains
		ledger.Module,
		user.Module,
		feature.Module,
		usage.Module,
		pricing.Module,
		payment.Module,
		restoration.Module,
		events.Module,
		scheduler.Module,

		server.Module,
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
