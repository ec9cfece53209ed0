package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/logibill/internal/billingactivity"
	"github.com/smallbiznis/logibill/internal/clock"
	"github.com/smallbiznis/logibill/internal/config"
	"github.com/smallbiznis/logibill/internal/observability"
	"github.com/smallbiznis/logibill/internal/ratecard"
	"github.com/smallbiznis/logibill/internal/ratelimit"
	"github.com/smallbiznis/logibill/internal/rateresolver"
	"github.com/smallbiznis/logibill/internal/rating"
	"github.com/smallbiznis/logibill/pkg/db"
	"go.uber.org/fx"
)

// The standalone worker only rates; migrations and HTTP belong to the API.
func main() {
	app := fx.New(
		config.Module,
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.RatingWorker.Enabled = true
			return cfg
		}),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		ratecard.Module,
		rateresolver.Module,
		billingactivity.Module,
		rating.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
