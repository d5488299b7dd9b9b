package engine

import (
	"testing"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
)

// TestClassifyFCnt covers the four FCntCheckMode disciplines: strict-16,
// strict-32, reset-allowed, and disabled.
func TestClassifyFCnt(t *testing.T) {
	tests := []struct {
		name        string
		mode        models.FCntCheckMode
		stored      uint32
		rx          uint16
		wantClass   fcntClass
		wantFCnt    uint32
		wantOK      bool
	}{
		{
			name:      "strict-16 accepts the next counter value",
			mode:      models.FCntCheckStrict16,
			stored:    10,
			rx:        11,
			wantClass: classNew,
			wantFCnt:  11,
			wantOK:    true,
		},
		{
			name:      "strict-16 flags an exact replay as a retransmit",
			mode:      models.FCntCheckStrict16,
			stored:    10,
			rx:        10,
			wantClass: classRetransmit,
			wantFCnt:  10,
			wantOK:    true,
		},
		{
			name:      "strict-16 rejects a gap past the max window",
			mode:      models.FCntCheckStrict16,
			stored:    0,
			rx:        20000,
			wantClass: classNew,
			wantFCnt:  0,
			wantOK:    false,
		},
		{
			name:      "strict-32 resolves a 16-bit rollover against the stored high bits",
			mode:      models.FCntCheckStrict32,
			stored:    70000,
			rx:        4469,
			wantClass: classNew,
			wantFCnt:  70005,
			wantOK:    true,
		},
		{
			name:      "reset-allowed treats a small backward jump as a device reset",
			mode:      models.FCntCheckResetAllowed,
			stored:    100,
			rx:        5,
			wantClass: classReset,
			wantFCnt:  5,
			wantOK:    true,
		},
		{
			name:      "reset-allowed rejects a large backward jump that isn't a reset",
			mode:      models.FCntCheckResetAllowed,
			stored:    100,
			rx:        50,
			wantClass: classNew,
			wantFCnt:  0,
			wantOK:    false,
		},
		{
			name:      "disabled accepts any forward value unconditionally",
			mode:      models.FCntCheckDisabled,
			stored:    1000,
			rx:        5000,
			wantClass: classNew,
			wantFCnt:  5000,
			wantOK:    true,
		},
		{
			name:      "disabled still recognizes a reset below the lost-frame threshold",
			mode:      models.FCntCheckDisabled,
			stored:    1000,
			rx:        5,
			wantClass: classReset,
			wantFCnt:  5,
			wantOK:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			class, fCnt, ok := classifyFCnt(tc.mode, tc.stored, tc.rx)
			if class != tc.wantClass || fCnt != tc.wantFCnt || ok != tc.wantOK {
				t.Fatalf("classifyFCnt(%v, %d, %d) = (%v, %d, %v), want (%v, %d, %v)",
					tc.mode, tc.stored, tc.rx, class, fCnt, ok, tc.wantClass, tc.wantFCnt, tc.wantOK)
			}
		})
	}
}
