package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// UplinkMessage is an uplink envelope: one physical reception, possibly
// heard by several gateways, carrying the still-undecoded PHY payload.
// None of the types in this file is used by the gateway bridge or the
// engine, which pass raw PHY bytes and engine.RxQ to
// engine.ProcessFrame and return engine.Action values.
type UplinkMessage struct {
	PHYPayloadBytes []byte
	RxQ             []RxQ
	GatewayMAC      lorawan.EUI64
	ReceivedAt      time.Time
}

// DownlinkMessage is a downlink frame envelope for emission by a gateway.
type DownlinkMessage struct {
	DevAddr     lorawan.DevAddr
	FPort       uint8
	Data        []byte
	Confirmed   bool
	FCnt        uint32
	GatewayMAC  lorawan.EUI64
	Frequency   uint32
	Power       int
	DataRate    int
	Delay       time.Duration
	ScheduledAt time.Time
}

// JoinRequestMessage is a decoded join-request envelope.
type JoinRequestMessage struct {
	PHYPayload []byte
	DevEUI     lorawan.EUI64
	JoinEUI    lorawan.EUI64
	DevNonce   [2]byte
	RxQ        []RxQ
	GatewayMAC lorawan.EUI64
}

// JoinAcceptMessage is a join-accept frame envelope.
type JoinAcceptMessage struct {
	PHYPayload []byte
	DevEUI     lorawan.EUI64
	DevAddr    lorawan.DevAddr
	JoinNonce  [3]byte
}
