package ratecard

import (
	"github.com/smallbiznis/logibill/internal/ratecard/repository"
	"github.com/smallbiznis/logibill/internal/ratecard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratecard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
