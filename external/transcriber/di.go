package transcriber

import (
	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/pbarone/meetingtranscribermacos/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscriberProvider == config.ProviderWebsocket {
			return NewWebsocketTranscriber(WebsocketConfig{URL: c.StreamingWSURL}), nil
		}
		return NewCloudSpeechTranscriber(CloudSpeechConfig{
			ProjectID: c.GoogleCloudProjectID,
			Location:  c.GoogleCloudSpeechLocation,
			Model:     c.GoogleCloudSpeechModel,
		}), nil
	})
}
