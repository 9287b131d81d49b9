package transcript

import (
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Aggregator, error) {
		return NewAggregator(WithMetrics(do.MustInvoke[*metrics.Metrics](i))), nil
	})
}
