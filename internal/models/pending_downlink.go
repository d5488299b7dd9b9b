package models

import (
	"time"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// PendingDownlink is the most recently transmitted PHY payload for a
// DevAddr : it lets a repeated uplink with the same FCnt
// trigger re-transmission of the same payload, and lets a confirmed
// downlink be retried until the device ACKs.
type PendingDownlink struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	PHYPayload []byte `json:"phyPayload" db:"phy_payload"`
	Confirmed bool `json:"confirmed" db:"confirmed"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// IgnoredLink is a DevAddr pattern (addr, mask); matching uplinks are
// silently dropped before MIC verification. If Mask is the
// zero value, matching is exact.
type IgnoredLink struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	Mask lorawan.DevAddr `json:"mask" db:"mask"`
}

// Matches reports whether candidate falls under this ignore pattern:
// exact match if Mask is zero, else (candidate & Mask == DevAddr & Mask).
func (l IgnoredLink) Matches(candidate lorawan.DevAddr) bool {
	if l.Mask == (lorawan.DevAddr{}) {
 return candidate == l.DevAddr
	}
	for i := range candidate {
 if candidate[i]&l.Mask[i] != l.DevAddr[i]&l.Mask[i] {
 return false
 }
	}
	return true
}

// MulticastGroup is keyed by a 4-byte multicast DevAddr. It
// shares the downlink code path with unicast Links but forbids confirmed
// frames and carries no FOpts.
type MulticastGroup struct {
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`
	NwkSKey lorawan.AES128Key `json:"-" db:"nwk_s_key"`
	AppSKey lorawan.AES128Key `json:"-" db:"app_s_key"`
	FCntDown uint32 `json:"fCntDown" db:"f_cnt_down"`

	RX2DR uint8 `json:"rx2DR" db:"rx2_dr"`
	RX2Freq uint32 `json:"rx2Freq" db:"rx2_freq"`

	ApplicationID *string `json:"applicationId,omitempty" db:"application_id"`
}
