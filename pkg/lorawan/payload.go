package lorawan

import (
	"fmt"
)

// MarshalBinary serializes the PHY payload. For JoinAccept, MACPayload must
// already hold the ECB-"decrypted" (i.e. encrypted, per §4.5) ciphertext
// including the trailing MIC, produced by EncryptJoinAcceptPayload; no MIC
// is appended separately in that case.
func (p *PHYPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 1+len(p.MACPayload)+4)
	data = append(data, p.MHDR.Byte())
	data = append(data, p.MACPayload...)
	if p.MHDR.MType != JoinAccept {
 data = append(data, p.MIC[:]...)
	}
	return data, nil
}

// UnmarshalBinary parses MHDR and splits MACPayload/MIC for non-join-accept
// frames. JoinAccept frames must be ECB-decrypted by the caller first (the
// device side of this operation; the network server never parses its own
// join-accepts back).
func (p *PHYPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
 return fmt.Errorf("lorawan: PHYPayload too short: %d bytes", len(data))
	}
	p.MHDR.MType = MType((data[0] >> 5) & 0x07)
	p.MHDR.Major = Major(data[0] & 0x03)

	if p.MHDR.MType == JoinAccept {
 p.MACPayload = data[1:]
 return nil
	}

	if len(data) < 12 {
 return fmt.Errorf("lorawan: PHYPayload too short for MIC: %d bytes", len(data))
	}
	p.MACPayload = data[1 : len(data)-4]
	copy(p.MIC[:], data[len(data)-4:])
	return nil
}

// Marshal serializes a data-frame MACPayload: FHDR ‖ [FPort ‖ FRMPayload]?
// DevAddr is written little-endian (reversed from the logical form) per the
// wire convention; everything else in FHDR is already wire order.
func (m *MACPayload) Marshal(isUplink bool) ([]byte, error) {
	data := make([]byte, 0, 7+len(m.FHDR.FOpts)+1+len(m.FRMPayload))

	rev := m.FHDR.DevAddr.Reversed()
	data = append(data, rev[:]...)

	// FCtrl layout (MSB->LSB): ADR ‖ ADRACKReq|RFU ‖ ACK ‖ FPending ‖ FOptsLen(4)
	fctrl := byte(0)
	if m.FHDR.FCtrl.ADR {
 fctrl |= 0x80
	}
	if isUplink && m.FHDR.FCtrl.ADRACKReq {
 fctrl |= 0x40
	}
	if m.FHDR.FCtrl.ACK {
 fctrl |= 0x20
	}
	if !isUplink && m.FHDR.FCtrl.FPending {
 fctrl |= 0x10
	}
	fctrl |= byte(len(m.FHDR.FOpts)) & 0x0F
	data = append(data, fctrl)

	data = append(data, byte(m.FHDR.FCnt), byte(m.FHDR.FCnt>>8))
	data = append(data, m.FHDR.FOpts...)

	if m.FPort != nil {
 data = append(data, *m.FPort)
 data = append(data, m.FRMPayload...)
	}

	return data, nil
}

// Unmarshal parses a data-frame MACPayload, reversing DevAddr back to
// logical form.
func (m *MACPayload) Unmarshal(data []byte, isUplink bool) error {
	if len(data) < 7 {
 return fmt.Errorf("lorawan: MACPayload too short: %d bytes", len(data))
	}
	pos := 0

	var wireAddr DevAddr
	copy(wireAddr[:], data[pos:pos+4])
	m.FHDR.DevAddr = wireAddr.Reversed()
	pos += 4

	fctrl := data[pos]
	m.FHDR.FCtrl.ADR = fctrl&0x80 != 0
	if isUplink {
 m.FHDR.FCtrl.ADRACKReq = fctrl&0x40 != 0
	}
	m.FHDR.FCtrl.ACK = fctrl&0x20 != 0
	if !isUplink {
 m.FHDR.FCtrl.FPending = fctrl&0x10 != 0
	}
	foptsLen := int(fctrl & 0x0F)
	pos++

	m.FHDR.FCnt = uint16(data[pos]) | uint16(data[pos+1])<<8
	pos += 2

	if foptsLen > 0 {
 if pos+foptsLen > len(data) {
 return fmt.Errorf("lorawan: invalid FOpts length %d", foptsLen)
 }
 m.FHDR.FOpts = append([]byte(nil), data[pos:pos+foptsLen]...)
 pos += foptsLen
	}

	if pos < len(data) {
 fport := data[pos]
 m.FPort = &fport
 pos++
 if pos < len(data) {
 m.FRMPayload = append([]byte(nil), data[pos:]...)
 }
	}

	return nil
}

// MarshalBinary serializes a join-request payload, reversing AppEUI/DevEUI
// to wire (little-endian) order.
func (j *JoinRequestPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 18)
	appEUI := j.AppEUI.Reversed()
	devEUI := j.DevEUI.Reversed()
	copy(data[0:8], appEUI[:])
	copy(data[8:16], devEUI[:])
	copy(data[16:18], j.DevNonce[:])
	return data, nil
}

// UnmarshalBinary parses a join-request payload, reversing AppEUI/DevEUI
// back to logical order.
func (j *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
 return fmt.Errorf("lorawan: invalid JoinRequest length: expected 18, got %d", len(data))
	}
	var appEUI, devEUI EUI64
	copy(appEUI[:], data[0:8])
	copy(devEUI[:], data[8:16])
	j.AppEUI = appEUI.Reversed()
	j.DevEUI = devEUI.Reversed()
	copy(j.DevNonce[:], data[16:18])
	return nil
}

// MarshalBinary serializes a join-accept payload, reversing DevAddr to wire
// order.
func (j *JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	size := 12 + len(j.CFList)
	data := make([]byte, size)
	copy(data[0:3], j.AppNonce[:])
	copy(data[3:6], j.NetID[:])
	rev := j.DevAddr.Reversed()
	copy(data[6:10], rev[:])
	data[10] = (j.DLSettings.RX1DROffset << 4) | (j.DLSettings.RX2DataRate & 0x0F)
	data[11] = j.RxDelay
	if len(j.CFList) > 0 {
 copy(data[12:], j.CFList)
	}
	return data, nil
}

// UnmarshalBinary parses a join-accept payload, reversing DevAddr back to
// logical order.
func (j *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
 return fmt.Errorf("lorawan: invalid JoinAccept length: minimum 12, got %d", len(data))
	}
	copy(j.AppNonce[:], data[0:3])
	copy(j.NetID[:], data[3:6])
	var wireAddr DevAddr
	copy(wireAddr[:], data[6:10])
	j.DevAddr = wireAddr.Reversed()
	j.DLSettings.RX1DROffset = (data[10] >> 4) & 0x07
	j.DLSettings.RX2DataRate = data[10] & 0x0F
	j.RxDelay = data[11]
	if len(data) > 12 {
 j.CFList = append([]byte(nil), data[12:]...)
	}
	return nil
}

// SetUplinkDataMIC computes and sets the MIC for an uplink data frame per
// step 4: AES-CMAC(NwkSKey, B0(Dir=MType&1, DevAddr, fCnt32, len)
// ‖ MHDR ‖ MACPayload)[0:4].
func (p *PHYPayload) SetUplinkDataMIC(devAddr DevAddr, fCnt32 uint32, nwkSKey AES128Key) error {
	msg := MICInput(p.MHDR.MType.Dir(), devAddr, fCnt32, p.MHDR.Byte(), p.MACPayload)
	mic, err := CalculateMIC(nwkSKey[:], msg)
	if err != nil {
 return fmt.Errorf("lorawan: calculate uplink MIC: %w", err)
	}
	p.MIC = mic
	return nil
}

// ValidateUplinkDataMIC reports whether the PHY payload's MIC matches the
// one recomputed under the given keys and resolved FCnt.
func (p *PHYPayload) ValidateUplinkDataMIC(devAddr DevAddr, fCnt32 uint32, nwkSKey AES128Key) (bool, error) {
	orig := p.MIC
	if err := p.SetUplinkDataMIC(devAddr, fCnt32, nwkSKey); err != nil {
 return false, err
	}
	valid := p.MIC == orig
	p.MIC = orig
	return valid, nil
}

// SetDownlinkDataMIC computes and sets the MIC for a downlink data frame
// (Dir=1 always) step 4.
func (p *PHYPayload) SetDownlinkDataMIC(devAddr DevAddr, fCnt32 uint32, nwkSKey AES128Key) error {
	msg := MICInput(1, devAddr, fCnt32, p.MHDR.Byte(), p.MACPayload)
	mic, err := CalculateMIC(nwkSKey[:], msg)
	if err != nil {
 return fmt.Errorf("lorawan: calculate downlink MIC: %w", err)
	}
	p.MIC = mic
	return nil
}

// ValidateUplinkJoinMIC validates a join-request MIC step 2:
// AES-CMAC(AppKey, MHDR ‖ AppEUI(LE) ‖ DevEUI(LE) ‖ DevNonce)[0:4]. The join
// request's MACPayload is already in wire (little-endian) order, so it is
// fed to CMAC as-is.
func (p *PHYPayload) ValidateUplinkJoinMIC(appKey AES128Key) (bool, error) {
	data := make([]byte, 0, 1+len(p.MACPayload))
	data = append(data, p.MHDR.Byte())
	data = append(data, p.MACPayload...)
	expected, err := CalculateMIC(appKey[:], data)
	if err != nil {
 return false, fmt.Errorf("lorawan: calculate join-request MIC: %w", err)
	}
	return expected == p.MIC, nil
}

// SetJoinAcceptMIC computes the join-accept MIC: AES-CMAC(AppKey, MHDR ‖
// MACPayload)[0:4], where MACPayload is the plaintext (pre-encryption) join
// accept body.
func (p *PHYPayload) SetJoinAcceptMIC(appKey AES128Key) error {
	data := make([]byte, 0, 1+len(p.MACPayload))
	data = append(data, p.MHDR.Byte())
	data = append(data, p.MACPayload...)
	mic, err := CalculateMIC(appKey[:], data)
	if err != nil {
 return fmt.Errorf("lorawan: calculate join-accept MIC: %w", err)
	}
	p.MIC = mic
	return nil
}

// EncryptJoinAcceptPayload implements/§9's "encryption by
// decryption": the transmitted PHY payload is
// MHDR ‖ AES-ECB-DECRYPT(AppKey, pad16(MACPayload ‖ MIC)). This is per spec
// and intentional — never replace the Decrypt call with Encrypt.
func (p *PHYPayload) EncryptJoinAcceptPayload(appKey AES128Key) error {
	plaintext := make([]byte, len(p.MACPayload)+4)
	copy(plaintext, p.MACPayload)
	copy(plaintext[len(p.MACPayload):], p.MIC[:])

	ciphertext, err := ECBDecrypt(appKey, ZeroPad(plaintext))
	if err != nil {
 return fmt.Errorf("lorawan: encrypt join-accept: %w", err)
	}
	p.MACPayload = ciphertext
	return nil
}
