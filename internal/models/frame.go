package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// RXFrame is one entry of the append-only, monotonically-keyed uplink
// frame log : gateway and radio metadata, application
// binding, DevAddr/FCnt/FPort, the decrypted application payload, and the
// device status known at receive time. FrameID is assigned by the store
// (a database sequence, per the original id-generation convention) and
// is never reused or reassigned.
type RXFrame struct {
	FrameID uint64 `json:"frameId" db:"frame_id"`

	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	DevEUI lorawan.EUI64 `json:"devEUI" db:"dev_eui"`

	ApplicationID string `json:"applicationId" db:"application_id"`

	GatewayID lorawan.EUI64 `json:"gatewayId" db:"gateway_id"`
	RxQ RxQ `json:"rxq" db:"rxq"`

	FCnt uint32 `json:"fCnt" db:"f_cnt"`
	FPort *uint8 `json:"fPort,omitempty" db:"f_port"`
	Confirmed bool `json:"confirmed" db:"confirmed"`

	// Data is the decrypted FRMPayload, plaintext application bytes.
	Data []byte `json:"data,omitempty" db:"data"`

	DevStat *DevStatus `json:"devStat,omitempty" db:"dev_stat"`

	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}

// TXFrame is a record of an emitted downlink, kept for retransmission
// bookkeeping.
type TXFrame struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`

	FPort uint8 `json:"fPort" db:"f_port"`
	Data []byte `json:"data,omitempty" db:"data"`
	Confirmed bool `json:"confirmed" db:"confirmed"`

	GatewayID lorawan.EUI64 `json:"gatewayId" db:"gateway_id"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	TransmittedAt *time.Time `json:"transmittedAt,omitempty" db:"transmitted_at"`
	AckedAt *time.Time `json:"acknowledgedAt,omitempty" db:"acked_at"`
}
