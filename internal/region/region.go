// Package region implements the regional PHY parameter tables/§6
// treats as an external collaborator: a pure function of region tag. It is
// adapted from the original pkg/lorawan/region.go and pkg/lorawan/cn470.go,
// which instead scattered `p.region.Name == "CN470"` branches throughout the
// network processor — here every such decision is behind the Table
// interface, selected once at startup by region tag.
package region

import (
	"fmt"
	"time"
)

// Channel is one uplink or downlink radio channel.
type Channel struct {
	Frequency uint32 // Hz
	MinDR int
	MaxDR int
}

// DataRate describes one entry of the region's data-rate table.
type DataRate struct {
	SpreadFactor int
	Bandwidth int // kHz
}

// RXWindow bundles the data rate and frequency offered by a receive window.
type RXWindow struct {
	DataRate int
	Frequency uint32
}

// Table is the region-table interface specifies: default_adr,
// default_rxwin, rx1_window, rx2_window, rx1_delay, rx2_dr, datar_to_dr,
// rf_group. All methods are pure functions of the receiver's fixed
// configuration and their arguments — no I/O, no mutable state.
type Table interface {
	Name() string

	// DefaultADR is the ADR bit a freshly joined Link starts with.
	DefaultADR() bool

	// DefaultRXWindow is the RX1/RX2 configuration a freshly joined Link
	// starts with, before any RXParamSetupReq.
	DefaultRXWindow() RXWindow

	// RX1Window resolves the RX1 data rate and frequency for an uplink
	// received at uplinkDR on uplinkFreq, given the Link's RX1DROffset.
	RX1Window(uplinkDR int, uplinkFreq uint32, rx1DROffset int) (RXWindow, error)

	// RX2Window returns the fixed RX2 parameters for the region (or the
	// Link's configured override, if non-zero).
	RX2Window(linkRX2DR int, linkRX2Freq uint32) RXWindow

	// RX1Delay is the default delay before the RX1 window opens.
	RX1Delay() time.Duration

	// RX2DR is the default RX2 data-rate index, used to compute the
	// join-accept DLSettings byte.
	RX2DR() int

	// DataRateToIndex maps a gateway-reported data-rate string (e.g.
	// "SF7BW125") to this region's DR index.
	DataRateToIndex(datr string) (int, error)

	// IndexToDataRateString is the inverse of DataRateToIndex, used to build
	// TxQ descriptors for the gateway transport.
	IndexToDataRateString(dr int) string

	// RFGroup returns the sub-band/channel-group index a frequency belongs
	// to, used by ADR and channel-mask MAC commands.
	RFGroup(freq uint32) int

	// MaxPayloadSize is the maximum MACPayload size at a given DR.
	MaxPayloadSize(dr int) int

	// MaxDataRate is the highest valid DR index in this region's table,
	// the ceiling ADR must clamp LinkADRReq proposals to.
	MaxDataRate() int
}

// ErrUnknownRegion is returned by Get for an unrecognized region tag.
var ErrUnknownRegion = fmt.Errorf("region: unknown region tag")

// Get resolves a region tag (as stored on models.Device) to its Table.
func Get(tag string) (Table, error) {
	switch tag {
	case "EU868":
 return eu868, nil
	case "US915":
 return us915, nil
	case "CN470":
 return NewCN470(CN470StandardFDD), nil
	case "CN470_CUSTOM_FDD":
 return NewCN470(CN470CustomFDD), nil
	case "CN470_TDD":
 return NewCN470(CN470TDD), nil
	default:
 return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, tag)
	}
}
