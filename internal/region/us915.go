package region

import (
	"fmt"
	"time"
)

// us915Table implements Table for the US 915MHz band. The teacher's
// US915Configuration in pkg/lorawan/region.go is a stub (no channel plan);
// kept that way here too — the 64+8 channel hybrid plan is not exercised by
// any SPEC_FULL.md component and would need real frequency-hopping data the
// teacher never had either.
type us915Table struct {
	dataRates    []DataRate
	maxPayload   map[int]int
	defaultRX2DR int
	defaultRX2Hz uint32
}

var us915 = &us915Table{
	dataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
	},
	maxPayload:   map[int]int{0: 11, 1: 53, 2: 125, 3: 242, 4: 242},
	defaultRX2DR: 8,
	defaultRX2Hz: 923300000,
}

func (t *us915Table) Name() string           { return "US915" }
func (t *us915Table) DefaultADR() bool       { return true }
func (t *us915Table) RX1Delay() time.Duration { return 1 * time.Second }
func (t *us915Table) RX2DR() int             { return t.defaultRX2DR }

func (t *us915Table) DefaultRXWindow() RXWindow {
	return RXWindow{DataRate: t.defaultRX2DR, Frequency: t.defaultRX2Hz}
}

func (t *us915Table) RX1Window(uplinkDR int, uplinkFreq uint32, rx1DROffset int) (RXWindow, error) {
	dr := uplinkDR - rx1DROffset
	if dr < 0 {
		dr = 0
	}
	return RXWindow{DataRate: dr, Frequency: uplinkFreq}, nil
}

func (t *us915Table) RX2Window(linkRX2DR int, linkRX2Freq uint32) RXWindow {
	dr, freq := t.defaultRX2DR, t.defaultRX2Hz
	if linkRX2Freq != 0 {
		freq = linkRX2Freq
	}
	if linkRX2DR != 0 {
		dr = linkRX2DR
	}
	return RXWindow{DataRate: dr, Frequency: freq}
}

func (t *us915Table) DataRateToIndex(datr string) (int, error) {
	for i, dr := range t.dataRates {
		if drString(dr) == datr {
			return i, nil
		}
	}
	return 0, fmt.Errorf("region/us915: unknown data rate %q", datr)
}

func (t *us915Table) IndexToDataRateString(dr int) string {
	if dr < 0 || dr >= len(t.dataRates) {
		return drString(t.dataRates[0])
	}
	return drString(t.dataRates[dr])
}

func (t *us915Table) RFGroup(freq uint32) int {
	return int(freq/1600000) % 8
}

func (t *us915Table) MaxPayloadSize(dr int) int {
	if v, ok := t.maxPayload[dr]; ok {
		return v
	}
	return t.maxPayload[0]
}

func (t *us915Table) MaxDataRate() int { return len(t.dataRates) - 1 }
