package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// Link is the active session record keyed by DevAddr. A Link
// exists iff the corresponding Device has completed a join and been
// assigned this DevAddr; it is replaced atomically by a re-join.
type Link struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	DevEUI lorawan.EUI64 `json:"devEUI" db:"dev_eui"`

	NwkSKey lorawan.AES128Key `json:"-" db:"nwk_s_key"`
	AppSKey lorawan.AES128Key `json:"-" db:"app_s_key"`

	FCntUp uint32 `json:"fCntUp" db:"f_cnt_up"`
	FCntDown uint32 `json:"fCntDown" db:"f_cnt_down"`

	FCntCheck FCntCheckMode `json:"fCntCheck" db:"f_cnt_check"`

	// ADR state.
	ADRFlagUse bool `json:"adrFlagUse" db:"adr_flag_use"`
	ADRFlagSet bool `json:"adrFlagSet" db:"adr_flag_set"`
	ADRUse *ADRInfo `json:"adrUse,omitempty" db:"adr_use"`
	ADRSet *ADRInfo `json:"adrSet,omitempty" db:"adr_set"`

	// RX-window state.
	RXWinUse *RXWinInfo `json:"rxWinUse,omitempty" db:"rx_win_use"`
	RXWinSet *RXWinInfo `json:"rxWinSet,omitempty" db:"rx_win_set"`

	// Last radio context.
	LastGatewayMAC lorawan.EUI64 `json:"lastGatewayMac" db:"last_gateway_mac"`
	LastRxQ *RxQ `json:"lastRxQ,omitempty" db:"last_rxq"`

	// Diagnostics, read-modify-write by both the uplink engine and the
	// MAC-command handler.
	DevStat *DevStatus `json:"devStat,omitempty" db:"dev_stat"`
	DevStatFCnt uint32 `json:"devStatFCnt" db:"dev_stat_fcnt"`
	LastQs []Quality `json:"lastQs,omitempty" db:"last_qs"`

	LastRX *time.Time `json:"lastRx,omitempty" db:"last_rx"`
	LastReset *time.Time `json:"lastReset,omitempty" db:"last_reset"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ADRInfo is (tx-power, data-rate, channel-mask).
type ADRInfo struct {
	TXPower *int `json:"txPower,omitempty"`
	DataRate *int `json:"dataRate,omitempty"`
	ChannelMask []bool `json:"channelMask,omitempty"`
}

// RXWinInfo is the RX1/RX2 configuration a Link is using or has requested.
type RXWinInfo struct {
	RX1DROffset uint8 `json:"rx1DROffset"`
	RX2DR uint8 `json:"rx2DR"`
	RX2Freq uint32 `json:"rx2Freq"`
	RXDelay uint8 `json:"rxDelay"`
}

// RxQ is the radio-layer metadata for a received uplink (spec GLOSSARY).
type RxQ struct {
	Frequency uint32 `json:"freq"`
	DataRate string `json:"datr"`
	SNR float64 `json:"lsnr"`
	RSSI int `json:"rssi"`
	// ServerMonotonicReceiveTimestamp is the server's monotonic clock
	// reading when the frame was received, used by choose_tx.
	ServerMonotonicReceiveTimestamp time.Time `json:"srvtmst"`
}

// DevStatus is the most recent DevStatusAns payload.
type DevStatus struct {
	Battery uint8 `json:"battery"`
	Margin int8 `json:"margin"`
}

// Quality is one entry of a Link's recent-quality window, maintained by the
// MAC-command handler's ADR algorithm.
type Quality struct {
	FCnt uint32 `json:"fCnt"`
	SNR float64 `json:"snr"`
	RSSI int `json:"rssi"`
}
