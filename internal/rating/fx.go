package rating

import (
	"github.com/smallbiznis/logibill/internal/rating/service"
	"github.com/smallbiznis/logibill/internal/rating/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("rating.service",
	fx.Provide(service.NewService),
	worker.Module,
)
