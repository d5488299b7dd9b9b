package lorawan

import "encoding/binary"

// buildB0 fills b0 (must be 16 bytes) :
//
//	B0 = 0x49 ‖ 0x00^4 ‖ Dir ‖ reverse(DevAddr) ‖ FCnt32(LE) ‖ 0x00 ‖ Len
func buildB0(b0 []byte, dir byte, devAddr DevAddr, fCnt32 uint32, msgLen int) {
	b0[0] = 0x49
	b0[1], b0[2], b0[3], b0[4] = 0, 0, 0, 0
	b0[5] = dir
	rev := devAddr.Reversed()
	copy(b0[6:10], rev[:])
	binary.LittleEndian.PutUint32(b0[10:14], fCnt32)
	b0[14] = 0x00
	b0[15] = byte(msgLen)
}

// buildAi fills ai (must be 16 bytes) :
//
//	Ai = 0x01 ‖ 0x00^4 ‖ Dir ‖ reverse(DevAddr) ‖ FCnt32(LE) ‖ 0x00 ‖ i
func buildAi(ai []byte, devAddr DevAddr, fCnt32 uint32, uplink bool, i byte) {
	ai[0] = 0x01
	ai[1], ai[2], ai[3], ai[4] = 0, 0, 0, 0
	if uplink {
 ai[5] = 0
	} else {
 ai[5] = 1
	}
	rev := devAddr.Reversed()
	copy(ai[6:10], rev[:])
	binary.LittleEndian.PutUint32(ai[10:14], fCnt32)
	ai[14] = 0x00
	ai[15] = i
}

// MICInput builds B0 ‖ MHDR ‖ MACPayload, the input to the data-frame MIC.
func MICInput(dir byte, devAddr DevAddr, fCnt32 uint32, mhdr byte, macPayload []byte) []byte {
	b0 := make([]byte, 16)
	buildB0(b0, dir, devAddr, fCnt32, 1+len(macPayload))
	msg := make([]byte, 0, 16+1+len(macPayload))
	msg = append(msg, b0...)
	msg = append(msg, mhdr)
	msg = append(msg, macPayload...)
	return msg
}
