package session

import (
	"github.com/pbarone/meetingtranscribermacos/internal/credential"
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		stt := do.MustInvoke[transcriber.Transcriber](i)
		creds := do.MustInvoke[*credential.Coordinator](i)
		agg := do.MustInvoke[*transcript.Aggregator](i)
		mt := do.MustInvoke[*metrics.Metrics](i)
		return NewManager(stt, creds, agg, WithMetrics(mt)), nil
	})
}
