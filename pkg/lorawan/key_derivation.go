package lorawan

import "crypto/aes"

// DeriveSessionKeys10 derives the LoRaWAN 1.0.x session keys 
// step 4:
//
//	NwkSKey = AES-ECB(AppKey, 0x01 ‖ AppNonce ‖ NetID ‖ DevNonce ‖ pad16)
//	AppSKey = AES-ECB(AppKey, 0x02 ‖ AppNonce ‖ NetID ‖ DevNonce ‖ pad16)
//
// LoRaWAN 1.1's four-key derivation is out of scope.
func DeriveSessionKeys10(appKey []byte, appNonce [3]byte, netID [3]byte, devNonce [2]byte) (nwkSKey, appSKey [16]byte, err error) {
	block, err := aes.NewCipher(appKey)
	if err != nil {
 return nwkSKey, appSKey, err
	}

	nwkSKeyMsg := make([]byte, 16)
	nwkSKeyMsg[0] = 0x01
	copy(nwkSKeyMsg[1:4], appNonce[:])
	copy(nwkSKeyMsg[4:7], netID[:])
	copy(nwkSKeyMsg[7:9], devNonce[:])
	block.Encrypt(nwkSKey[:], nwkSKeyMsg)

	appSKeyMsg := make([]byte, 16)
	appSKeyMsg[0] = 0x02
	copy(appSKeyMsg[1:4], appNonce[:])
	copy(appSKeyMsg[4:7], netID[:])
	copy(appSKeyMsg[7:9], devNonce[:])
	block.Encrypt(appSKey[:], appSKeyMsg)

	return nwkSKey, appSKey, nil
}
