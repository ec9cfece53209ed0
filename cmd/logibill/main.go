package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/logibill/internal/audit"
	"github.com/smallbiznis/logibill/internal/billingactivity"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	"github.com/smallbiznis/logibill/internal/invoice"
	"github.com/smallbiznis/logibill/internal/migration"
	"github.com/smallbiznis/logibill/internal/observability"
	"github.com/smallbiznis/logibill/internal/payment"
	"github.com/smallbiznis/logibill/internal/ratecard"
	"github.com/smallbiznis/logibill/internal/ratelimit"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/internal/rating"
	"github.com/smallbiznis/logibill/internal/server"
	"github.com/smallbiznis/logibill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		audit.Module,
		ratecard.Module,
		rateresolver.Module,
		billingactivity.Module,
		rating.Module,
		invoice.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
