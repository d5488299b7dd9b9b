// Package lorawan implements the LoRaWAN 1.0.1 Class-A PHY payload format:
// marshaling, MIC computation, and the AES-128 primitives the protocol
// layers on top of.
//
// Multi-byte identifiers (DevAddr, DevEUI, AppEUI/JoinEUI) are held here in
// canonical, logical (big-endian) form. The wire transits them little-endian;
// byte reversal happens exactly once, at the Marshal/Unmarshal boundary in
// payload.go, and again inside the B0/Ai block construction in block.go
// where the spec explicitly calls for reverse(DevAddr). Nowhere else in this
// module reverses these fields.
package lorawan

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EUI64 is an 8-byte identifier (DevEUI or AppEUI/JoinEUI) in logical order.
type EUI64 [8]byte

func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 8 {
		return fmt.Errorf("invalid EUI64 length: %d", len(b))
	}
	copy(e[:], b)
	return nil
}

// Value implements driver.Valuer so EUI64 columns can be stored as raw bytes.
func (e EUI64) Value() (driver.Value, error) {
	return e[:], nil
}

// Scan implements sql.Scanner.
func (e *EUI64) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok || len(b) != 8 {
		return fmt.Errorf("lorawan: cannot scan %T into EUI64", value)
	}
	copy(e[:], b)
	return nil
}

// Reversed returns the byte-reversed copy used at wire boundaries.
func (e EUI64) Reversed() EUI64 {
	var r EUI64
	for i := range e {
		r[i] = e[len(e)-1-i]
	}
	return r
}

// DevAddr is the 32-bit dynamic network address, logical order.
type DevAddr [4]byte

func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 4 {
		return fmt.Errorf("invalid DevAddr length: %d", len(b))
	}
	copy(d[:], b)
	return nil
}

// Reversed returns the byte-reversed copy used at wire boundaries.
func (d DevAddr) Reversed() DevAddr {
	var r DevAddr
	for i := range d {
		r[i] = d[len(d)-1-i]
	}
	return r
}

// NwkID returns the low 7 bits of NetID embedded in the DevAddr (top byte).
func (d DevAddr) NwkID() byte {
	return d[0] >> 1
}

// Value implements driver.Valuer.
func (d DevAddr) Value() (driver.Value, error) {
	return d[:], nil
}

// Scan implements sql.Scanner.
func (d *DevAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok || len(b) != 4 {
		return fmt.Errorf("lorawan: cannot scan %T into DevAddr", value)
	}
	copy(d[:], b)
	return nil
}

// AES128Key is a 128-bit AES key.
type AES128Key [16]byte

func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MType is the LoRaWAN message type, top 3 bits of MHDR.
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

func (m MType) IsUplink() bool {
	return m == JoinRequest || m == UnconfirmedDataUp || m == ConfirmedDataUp
}

// Dir returns the direction bit used by B0/Ai: 0 for uplink, 1 for downlink.
// This follows the original "MType & 1" rule verbatim : it equals
// 0 for {UnconfirmedDataUp, ConfirmedDataUp} and 1 for
// {UnconfirmedDataDown, ConfirmedDataDown}, which also happens to be the bit
// used to decrypt FPort==0 MAC-command payloads with Dir=0 under NwkSKey on
// uplink even though the content isn't application data.
func (m MType) Dir() byte {
	return byte(m) & 1
}

// Major is the LoRaWAN major version.
type Major byte

const (
	LoRaWAN1_0 Major = 0
)

// PHYPayload is MHDR ‖ MACPayload ‖ MIC.
type PHYPayload struct {
	MHDR MHDR
	MACPayload []byte
	MIC [4]byte
}

// MHDR is the 1-byte MAC header.
type MHDR struct {
	MType MType
	Major Major
}

func (h MHDR) Byte() byte {
	return byte(h.MType<<5) | byte(h.Major)
}

// MACPayload is the decoded data-frame MAC payload.
type MACPayload struct {
	FHDR FHDR
	FPort *uint8
	FRMPayload []byte
}

// FHDR is the frame header: DevAddr ‖ FCtrl ‖ FCnt ‖ FOpts.
type FHDR struct {
	DevAddr DevAddr
	FCtrl FCtrl
	FCnt uint16
	FOpts []byte
}

// FCtrl is the frame-control byte. Bit meaning depends on direction.
type FCtrl struct {
	ADR bool
	ADRACKReq bool // uplink only
	ACK bool
	FPending bool // downlink only
}

// JoinRequestPayload is AppEUI(8) ‖ DevEUI(8) ‖ DevNonce(2), logical form.
type JoinRequestPayload struct {
	AppEUI EUI64
	DevEUI EUI64
	DevNonce [2]byte
}

// JoinAcceptPayload is AppNonce ‖ NetID ‖ DevAddr ‖ DLSettings ‖ RxDelay ‖ CFList?
type JoinAcceptPayload struct {
	AppNonce [3]byte
	NetID [3]byte
	DevAddr DevAddr
	DLSettings DLSettings
	RxDelay uint8
	CFList []byte
}

// DLSettings packs RX1DROffset(3b) and RX2DataRate(4b) into one byte.
type DLSettings struct {
	RX1DROffset uint8
	RX2DataRate uint8
}
