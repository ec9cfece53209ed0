package billingactivity

import (
	"github.com/smallbiznis/logibill/internal/billingactivity/repository"
	"github.com/smallbiznis/logibill/internal/billingactivity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingactivity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
