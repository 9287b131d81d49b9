package audio

import (
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Pipeline, error) {
		registry := do.MustInvoke[DeviceRegistry](i)
		return NewPipeline(registry, WithMetrics(do.MustInvoke[*metrics.Metrics](i))), nil
	})
}
