// Package decryptor implements AES-128 segment decryption for HLS streams
// and the per-run key cache.
package decryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/mohaanymo/m3u8dl/internal/config"
	"github.com/mohaanymo/m3u8dl/internal/models"
)

// Decrypt decrypts AES-128-CBC data with the given key and IV.
// A nil IV means 16 zero bytes. Padding is left in place, so the output
// is always as long as the input.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	if len(key) != aes.BlockSize {
		return nil, models.Errorf(models.ErrDecryption, "decrypt", "invalid key length: %d", len(key))
	}
	if iv == nil {
		iv = make([]byte, aes.BlockSize)
	}
	if len(iv) != aes.BlockSize {
		return nil, models.Errorf(models.ErrDecryption, "decrypt", "invalid IV length: %d", len(iv))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, models.Errorf(models.ErrDecryption, "decrypt",
			"ciphertext length %d not multiple of block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, models.Wrap(models.ErrDecryption, "create cipher", err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// ParseIV parses the IV attribute of #EXT-X-KEY.
// Format: 0x... or plain hex string. Short values are left-padded with zeros.
func ParseIV(ivStr string) ([]byte, error) {
	if ivStr == "" {
		return nil, nil
	}

	s := ivStr
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	iv, err := hex.DecodeString(s)
	if err != nil {
		return nil, models.Wrap(models.ErrDecryption, "parse IV", err)
	}
	if len(iv) > aes.BlockSize {
		return nil, models.Errorf(models.ErrDecryption, "parse IV", "IV %q longer than 16 bytes", ivStr)
	}

	if len(iv) < aes.BlockSize {
		padded := make([]byte, aes.BlockSize)
		copy(padded[aes.BlockSize-len(iv):], iv)
		iv = padded
	}
	return iv, nil
}

// SequenceIV returns the media sequence number as a big-endian 128-bit value.
func SequenceIV(seq uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], seq)
	return iv
}

// SegmentIV picks the IV for a segment. An explicit IV always wins;
// otherwise mode decides between zero bytes and the sequence number.
func SegmentIV(key *models.KeyRef, seq uint64, mode config.IVMode) []byte {
	if key != nil && key.IV != nil {
		return key.IV
	}
	if mode == config.IVSequence {
		return SequenceIV(seq)
	}
	return make([]byte, aes.BlockSize)
}

// Supported reports whether segments encrypted with method can be decrypted.
func Supported(method models.EncryptionMethod) bool {
	return strings.EqualFold(string(method), string(models.MethodAES128))
}

// CheckMethod returns a decryption error for unsupported methods.
func CheckMethod(method models.EncryptionMethod) error {
	if Supported(method) {
		return nil
	}
	return models.Errorf(models.ErrDecryption, "decrypt", "unsupported encryption method %q", method)
}
