package recorder

import (
	"time"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
	"github.com/pbarone/meetingtranscribermacos/internal/repository"
	"github.com/pbarone/meetingtranscribermacos/internal/session"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
	"github.com/pbarone/meetingtranscribermacos/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		loc, err := time.LoadLocation(cfg.TranscriptTimezone)
		if err != nil {
			return nil, err
		}
		settings := Settings{
			Input:        audio.DeviceHandle{ID: cfg.InputDeviceID, Kind: audio.DeviceKindInput},
			Output:       audio.DeviceHandle{ID: cfg.OutputDeviceID, Kind: audio.DeviceKindOutput},
			LanguageCode: cfg.DefaultTranscribeLanguage,
			Diarization:  cfg.DiarizationEnabled,
			Timezone:     cfg.TranscriptTimezone,
			Location:     loc,
		}
		return NewService(settings,
			do.MustInvoke[*audio.Pipeline](i),
			do.MustInvoke[*session.Manager](i),
			do.MustInvoke[*transcript.Aggregator](i),
			do.MustInvoke[repository.Repository](i),
			do.MustInvoke[publisher.Publisher](i),
			do.MustInvoke[webhook.Sender](i),
		), nil
	})
}
