package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// Gateway is keyed by 8-byte MAC/GatewayID (C8). LastReceiveAt
// and Position are maintained by the gateway-status sink as status frames
// arrive; everything else is provisioning data.
type Gateway struct {
	TenantModel

	GatewayID lorawan.EUI64 `json:"gatewayId" db:"gateway_id"`
	NetID [3]byte `json:"netId" db:"net_id"`
	Name string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`

	Position *GatewayPosition `json:"position,omitempty" db:"position"`

	LastReceiveAt *time.Time `json:"lastReceiveAt,omitempty" db:"last_receive_at"`

	NetworkServerID *uuid.UUID `json:"networkServerId,omitempty" db:"network_server_id"`
	GatewayProfileID *uuid.UUID `json:"gatewayProfileId,omitempty" db:"gateway_profile_id"`

	Tags Variables `json:"tags,omitempty" db:"tags"`
}

// GatewayPosition is the optional GPS fix reported in a gateway status
// frame (spec GLOSSARY: "Gateway status frame").
type GatewayPosition struct {
	Latitude float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Altitude float64 `json:"altitude" db:"altitude"`
}

// GatewayStats is a periodic rollup of a gateway's packet counters, kept
// for the admin API; it is not consulted by the MAC engine.
type GatewayStats struct {
	ID uuid.UUID `json:"id" db:"id"`
	GatewayID lorawan.EUI64 `json:"gatewayId" db:"gateway_id"`
	Time time.Time `json:"time" db:"time"`

	RXPacketsReceived int `json:"rxPacketsReceived" db:"rx_packets_received"`
	RXPacketsValid int `json:"rxPacketsValid" db:"rx_packets_valid"`
	TXPacketsEmitted int `json:"txPacketsEmitted" db:"tx_packets_emitted"`
}

// GatewayProfile groups the radio channel plan shared by a fleet of
// gateways (admin-API convenience; the MAC engine resolves channels
// through internal/region instead).
type GatewayProfile struct {
	BaseModel
	NetworkServerID *uuid.UUID `json:"networkServerId,omitempty" db:"network_server_id"`

	Name string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	Channels Variables `json:"channels" db:"channels"`
}
