//go:build !opus

package device

import (
	"fmt"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
)

func openOpusDevice(e Entry) (audio.Device, error) {
	return nil, fmt.Errorf("device %s: opus driver requires building with -tags opus", e.ID)
}
