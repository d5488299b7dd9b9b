package engine

import (
	"context"
	"errors"
	"time"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// GatewayStatus is a decoded gateway status report: position and
// altitude are optional since some receivers report lat/lon without a
// usable altitude fix.
type GatewayStatus struct {
	Latitude    float64
	Longitude   float64
	HasPosition bool
	Altitude    float64
	HasAltitude bool
	Description string
}

// ProcessStatus is the gateway status sink: it always stamps last_rx,
// and conditionally updates position, altitude, and description.
func (e *Engine) ProcessStatus(ctx context.Context, gatewayMAC lorawan.EUI64, stat GatewayStatus) Action {
	gw, err := e.store.GetGateway(ctx, gatewayMAC)
	if errors.Is(err, storage.ErrNotFound) {
		return actionErr(newError(ErrUnknownMAC, gatewayMAC.String(), nil))
	}
	if err != nil {
		return actionErr(newError(ErrApplication, gatewayMAC.String(), err))
	}

	now := time.Now()
	gw.LastReceiveAt = &now

	if stat.HasPosition && (stat.Latitude != 0 || stat.Longitude != 0) {
		pos := gw.Position
		if pos == nil {
			pos = &models.GatewayPosition{}
		}
		pos.Latitude = stat.Latitude
		pos.Longitude = stat.Longitude
		if stat.HasAltitude && stat.Altitude != 0 {
			pos.Altitude = stat.Altitude
		}
		gw.Position = pos
	}

	if stat.Description != "" {
		gw.Description = stat.Description
	}

	if err := e.store.PutGateway(ctx, gw); err != nil {
		return actionErr(newError(ErrApplication, gatewayMAC.String(), err))
	}
	return actionNone()
}
