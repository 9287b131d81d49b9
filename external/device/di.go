package device

import (
	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Registry, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewRegistry(c.DeviceManifestPath)
	})
	do.Provide(injector, func(i do.Injector) (audio.DeviceRegistry, error) {
		return do.MustInvoke[*Registry](i), nil
	})
}
