package lorawan

import (
	"crypto/aes"
	"fmt"
)

// ECBEncrypt runs AES-128-ECB encryption over data, which must be a multiple
// of the block size. The join-accept encryption uses its inverse
// ECBDecrypt; the session key derivation and CipherPayload run the same
// one-block AES encryption directly on a cipher.Block rather than through
// this function. Go's standard library has no ECB cipher.Mode (by design,
// ECB leaks plaintext structure) so, like the original design, each block is run
// through the raw cipher.Block directly — there is no third-party AES-ECB
// package anywhere in the example pack to reach for instead.
func ECBEncrypt(key AES128Key, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, false)
}

// ECBDecrypt runs AES-128-ECB decryption. Used both as the inverse of
// ECBEncrypt and, /§9, as the join-accept "encrypt by
// decryption" step — the network server ECB-*decrypts* the join-accept
// plaintext so that the device recovers it by ECB-*encrypting*. Do not
// special-case or "fix" that call site.
func ECBDecrypt(key AES128Key, data []byte) ([]byte, error) {
	return ecbCrypt(key, data, true)
}

func ecbCrypt(key AES128Key, data []byte, decrypt bool) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
 return nil, fmt.Errorf("lorawan: ECB input length %d not a multiple of block size", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
 return nil, err
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
 if decrypt {
 block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
 } else {
 block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
 }
	}
	return out, nil
}

// ZeroPad right-pads b with zero bytes to the next multiple of 16.
func ZeroPad(b []byte) []byte {
	rem := len(b) % aes.BlockSize
	if rem == 0 {
 return b
	}
	out := make([]byte, len(b)+aes.BlockSize-rem)
	copy(out, b)
	return out
}

// CalculateMIC computes AES-CMAC-128(key, data) truncated to 4 bytes.
func CalculateMIC(key []byte, data []byte) ([4]byte, error) {
	var mic [4]byte
	tag, err := aesCMACPRF(key, data)
	if err != nil {
 return mic, err
	}
	copy(mic[:], tag[0:4])
	return mic, nil
}

// CipherPayload is the LoRaWAN CTR-like FRMPayload cipher : block
// i (i>=1) is XORed with AES-ECB(key, Ai). It is its own inverse, so the same
// function both encrypts and decrypts.
func CipherPayload(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
 return payload, nil
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
 return nil, err
	}

	numBlocks := (len(payload) + 15) / 16
	stream := make([]byte, numBlocks*16)
	ai := make([]byte, 16)
	for i := 0; i < numBlocks; i++ {
 buildAi(ai, devAddr, fCnt, uplink, byte(i+1))
 block.Encrypt(stream[i*16:(i+1)*16], ai)
	}

	out := make([]byte, len(payload))
	for i := range payload {
 out[i] = payload[i] ^ stream[i]
	}
	return out, nil
}
