package engine

import "github.com/lorawan-server/lorawan-server-pro/internal/models"

// Thresholds from the original FCnt-gap heuristics.
const (
	maxLostAfterReset = 10
	maxFCntGap = 16384
)

type fcntClass int

const (
	classNew fcntClass = iota
	classRetransmit
	classReset
)

// classifyFCnt implements the FCnt classification algorithm exactly,
// including its literal rx==stored equality check
// (stored is compared at full width against the widened 16-bit rx value,
// not against stored's low 16 bits — see DESIGN.md for the ambiguity
// this inherits once stored exceeds 0xFFFF).
func classifyFCnt(mode models.FCntCheckMode, stored uint32, rx uint16) (class fcntClass, newFCnt uint32, ok bool) {
	rx32 := uint32(rx)

	if (mode == models.FCntCheckResetAllowed || mode == models.FCntCheckDisabled) &&
 rx32 < stored && rx32 < maxLostAfterReset {
 return classReset, rx32, true
	}

	if mode == models.FCntCheckDisabled {
 return classNew, rx32, true
	}

	if rx32 == stored {
 return classRetransmit, stored, true
	}

	if mode == models.FCntCheckStrict32 {
 gap := gap32(stored, rx)
 if gap < maxFCntGap {
 return classNew, (stored + gap) & 0xFFFFFFFF, true
 }
 return classNew, 0, false
	}

	// strict-16
	gap := gap16(stored, rx)
	if gap < maxFCntGap {
 return classNew, rx32, true
	}
	return classNew, 0, false
}

// gap32 computes (rx - (stored & 0xFFFF)) mod 0x10000.
func gap32(stored uint32, rx uint16) uint32 {
	return (uint32(rx) - (stored & 0xFFFF)) & 0xFFFF
}

// gap16 computes (rx - stored) mod 0x10000.
func gap16(stored uint32, rx uint16) uint32 {
	return (uint32(rx) - stored) & 0xFFFF
}
