package region

import (
	"fmt"
	"time"
)

// eu868Table implements Table for the EU 868MHz band, grounded on the
// teacher's EU868Configuration in pkg/lorawan/region.go.
type eu868Table struct {
	channels     []Channel
	dataRates    []DataRate
	maxPayload   map[int]int
	rx1Offsets   map[int]map[int]int
	defaultRX2DR int
	defaultRX2Hz uint32
}

var eu868 = &eu868Table{
	channels: []Channel{
		{Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	dataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
		{SpreadFactor: 7, Bandwidth: 250},  // DR6
	},
	maxPayload: map[int]int{0: 51, 1: 51, 2: 51, 3: 115, 4: 242, 5: 242, 6: 242},
	rx1Offsets: map[int]map[int]int{
		0: {0: 0, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		1: {0: 1, 1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		2: {0: 2, 1: 1, 2: 0, 3: 0, 4: 0, 5: 0},
		3: {0: 3, 1: 2, 2: 1, 3: 0, 4: 0, 5: 0},
		4: {0: 4, 1: 3, 2: 2, 3: 1, 4: 0, 5: 0},
		5: {0: 5, 1: 4, 2: 3, 3: 2, 4: 1, 5: 0},
	},
	defaultRX2DR: 0,
	defaultRX2Hz: 869525000,
}

func (t *eu868Table) Name() string       { return "EU868" }
func (t *eu868Table) DefaultADR() bool   { return true }
func (t *eu868Table) RX1Delay() time.Duration { return 1 * time.Second }
func (t *eu868Table) RX2DR() int         { return t.defaultRX2DR }

func (t *eu868Table) DefaultRXWindow() RXWindow {
	return RXWindow{DataRate: t.defaultRX2DR, Frequency: t.defaultRX2Hz}
}

func (t *eu868Table) RX1Window(uplinkDR int, uplinkFreq uint32, rx1DROffset int) (RXWindow, error) {
	dr := uplinkDR
	if m, ok := t.rx1Offsets[uplinkDR]; ok {
		if v, ok := m[rx1DROffset]; ok {
			dr = v
		}
	}
	return RXWindow{DataRate: dr, Frequency: uplinkFreq}, nil
}

func (t *eu868Table) RX2Window(linkRX2DR int, linkRX2Freq uint32) RXWindow {
	dr, freq := t.defaultRX2DR, t.defaultRX2Hz
	if linkRX2Freq != 0 {
		freq = linkRX2Freq
	}
	if linkRX2DR != 0 {
		dr = linkRX2DR
	}
	return RXWindow{DataRate: dr, Frequency: freq}
}

func (t *eu868Table) DataRateToIndex(datr string) (int, error) {
	for i, dr := range t.dataRates {
		if drString(dr) == datr {
			return i, nil
		}
	}
	return 0, fmt.Errorf("region/eu868: unknown data rate %q", datr)
}

func (t *eu868Table) IndexToDataRateString(dr int) string {
	if dr < 0 || dr >= len(t.dataRates) {
		return drString(t.dataRates[0])
	}
	return drString(t.dataRates[dr])
}

func (t *eu868Table) RFGroup(freq uint32) int {
	for i, ch := range t.channels {
		if ch.Frequency == freq {
			return i
		}
	}
	return 0
}

func (t *eu868Table) MaxPayloadSize(dr int) int {
	if v, ok := t.maxPayload[dr]; ok {
		return v
	}
	return t.maxPayload[0]
}

func (t *eu868Table) MaxDataRate() int { return len(t.dataRates) - 1 }

func drString(dr DataRate) string {
	return fmt.Sprintf("SF%dBW%d", dr.SpreadFactor, dr.Bandwidth)
}
