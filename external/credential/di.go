package credential

import (
	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/pbarone/meetingtranscribermacos/internal/credential"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*credential.Coordinator, error) {
		c := do.MustInvoke[*config.Config](i)
		var refresher credential.Refresher
		if c.TranscriberProvider == config.ProviderWebsocket {
			refresher = NewTokenEndpointRefresher(c.StreamingTokenURL, c.StreamingAPIKey, c.StreamingTokenTTL())
		} else {
			google, err := NewGoogleRefresher(c.GoogleCloudCredentialsJSON, c.CredentialRefreshLead())
			if err != nil {
				return nil, err
			}
			refresher = google
		}
		return credential.NewCoordinator(refresher, credential.WithLeadTime(c.CredentialRefreshLead())), nil
	})
}
