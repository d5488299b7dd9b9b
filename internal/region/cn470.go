package region

import (
	"fmt"
	"time"
)

// CN470Mode selects which of the original three deployment modes this
// Table instance behaves as. Adapted from pkg/lorawan/region.go's
// CN470Mode/CN470StandardFDD/CN470CustomFDD/CN470TDD constants and
// internal/config.go's CN470 hardware-mode selection, generalized behind
// the Table interface instead of being threaded through internal/network
// as `p.config.CN470.GetCN470Mode` calls.
type CN470Mode string

const (
	CN470StandardFDD CN470Mode = "STANDARD_FDD" // uplink 470-490MHz, downlink 500-510MHz
	CN470CustomFDD CN470Mode = "CUSTOM_FDD" // uplink 470.3-479.9MHz, downlink 480.3-489.9MHz
	CN470TDD CN470Mode = "TDD" // shared 470-490MHz, time-division
)

var cn470DataRates = []DataRate{
	{SpreadFactor: 12, Bandwidth: 125}, // DR0
	{SpreadFactor: 11, Bandwidth: 125}, // DR1
	{SpreadFactor: 10, Bandwidth: 125}, // DR2
	{SpreadFactor: 9, Bandwidth: 125}, // DR3
	{SpreadFactor: 8, Bandwidth: 125}, // DR4
	{SpreadFactor: 7, Bandwidth: 125}, // DR5
}

var cn470MaxPayload = map[int]int{0: 51, 1: 51, 2: 51, 3: 115, 4: 222, 5: 222}

var cn470RX1Offsets = map[int]map[int]int{
	0: {0: 0, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	1: {0: 1, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	2: {0: 2, 1: 1, 2: 0, 3: 0, 4: 0, 5: 0},
	3: {0: 3, 1: 2, 2: 1, 3: 0, 4: 0, 5: 0},
	4: {0: 4, 1: 3, 2: 2, 3: 1, 4: 0, 5: 0},
	5: {0: 5, 1: 4, 2: 3, 3: 2, 4: 1, 5: 0},
}

type cn470Table struct {
	mode CN470Mode
	defaultRX2DR int
	defaultRX2Hz uint32
}

// NewCN470 builds a CN470 Table for the given deployment mode.
func NewCN470(mode CN470Mode) Table {
	defaultRX2 := uint32(480300000)
	if mode == CN470StandardFDD {
 defaultRX2 = 500300000
	}
	return &cn470Table{mode: mode, defaultRX2DR: 0, defaultRX2Hz: defaultRX2}
}

func (t *cn470Table) Name() string { return "CN470" }
func (t *cn470Table) DefaultADR() bool { return true }
func (t *cn470Table) RX1Delay() time.Duration { return 1 * time.Second }
func (t *cn470Table) RX2DR() int { return t.defaultRX2DR }

func (t *cn470Table) DefaultRXWindow() RXWindow {
	return RXWindow{DataRate: t.defaultRX2DR, Frequency: t.defaultRX2Hz}
}

func (t *cn470Table) RX1Window(uplinkDR int, uplinkFreq uint32, rx1DROffset int) (RXWindow, error) {
	dr := uplinkDR
	if m, ok := cn470RX1Offsets[uplinkDR]; ok {
 if v, ok := m[rx1DROffset]; ok {
 dr = v
 }
	}
	freq, err := t.downlinkFrequencyFor(uplinkFreq)
	if err != nil {
 freq = t.defaultRX2Hz
	}
	return RXWindow{DataRate: dr, Frequency: freq}, nil
}

func (t *cn470Table) RX2Window(linkRX2DR int, linkRX2Freq uint32) RXWindow {
	dr, freq := t.defaultRX2DR, t.defaultRX2Hz
	if linkRX2Freq != 0 {
 freq = linkRX2Freq
	}
	if linkRX2DR != 0 {
 dr = linkRX2DR
	}
	return RXWindow{DataRate: dr, Frequency: freq}
}

// downlinkFrequencyFor implements the per-mode uplink->downlink mapping from
// the original processor.go scheduleDownlink/calculateDownlinkFrequency.
func (t *cn470Table) downlinkFrequencyFor(uplinkFreq uint32) (uint32, error) {
	switch t.mode {
	case CN470StandardFDD:
 freq := uplinkFreq + 30000000
 if freq < 500300000 || freq > 509700000 {
 return 0, fmt.Errorf("region/cn470: standard-FDD downlink %d Hz out of range", freq)
 }
 return freq, nil
	case CN470CustomFDD:
 freq := uplinkFreq + 10000000
 if freq < 480300000 || freq > 489900000 {
 return 0, fmt.Errorf("region/cn470: custom-FDD downlink %d Hz out of range", freq)
 }
 return freq, nil
	case CN470TDD:
 return uplinkFreq, nil
	default:
 return 0, fmt.Errorf("region/cn470: unknown mode %q", t.mode)
	}
}

func (t *cn470Table) DataRateToIndex(datr string) (int, error) {
	for i, dr := range cn470DataRates {
 if drString(dr) == datr {
 return i, nil
 }
	}
	return 0, fmt.Errorf("region/cn470: unknown data rate %q", datr)
}

func (t *cn470Table) IndexToDataRateString(dr int) string {
	if dr < 0 || dr >= len(cn470DataRates) {
 return drString(cn470DataRates[0])
	}
	return drString(cn470DataRates[dr])
}

// RFGroup returns the 16-channel sub-band index a frequency belongs to,
// matching the original GetCN470ChannelIndex/16-channels-per-page layout.
func (t *cn470Table) RFGroup(freq uint32) int {
	if freq < 470300000 {
 return 0
	}
	channel := int((freq - 470300000) / 200000)
	return channel / 16
}

func (t *cn470Table) MaxPayloadSize(dr int) int {
	if v, ok := cn470MaxPayload[dr]; ok {
 return v
	}
	return cn470MaxPayload[0]
}

func (t *cn470Table) MaxDataRate() int { return len(cn470DataRates) - 1 }

// CFList builds the 16-byte CFList appended to a join-accept, one 24-bit
// little-endian 100Hz-unit frequency per extra channel (up to 5), matching
// the original generateCN470CFList.
func (t *cn470Table) CFList() []byte {
	cfList := make([]byte, 16)
	var frequencies []uint32

	switch t.mode {
	case CN470StandardFDD, CN470CustomFDD, CN470TDD:
 base := uint32(470300000)
 for i := 1; i <= 5; i++ {
 frequencies = append(frequencies, base+uint32(i)*200000)
 }
	}

	for i, freq := range frequencies {
 if i >= 5 {
 break
 }
 freq100Hz := freq / 100
 cfList[i*3] = byte(freq100Hz)
 cfList[i*3+1] = byte(freq100Hz >> 8)
 cfList[i*3+2] = byte(freq100Hz >> 16)
	}
	cfList[15] = 0 // CFListType = 0: frequency list
	return cfList
}
