package publisher

import (
	"log/slog"

	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/pbarone/meetingtranscribermacos/internal/publisher"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (publisher.Publisher, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.RedisURL == "" {
			slog.Info("REDIS_URL not set; status will not be published")
			return NoopPublisher{}, nil
		}
		return NewRedisPublisher(c.RedisURL, c.RedisChannelPrefix)
	})
}
