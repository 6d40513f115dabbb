package crypto

import (
	"bytes"
	"errors"
)

var (
	ErrInvalidPadding = errors.New("invalid padding")
)

// pkcs7Pad pads data to a multiple of blockSize. A full padding block is
// appended when the data is already aligned, so unpad is always unambiguous.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// pkcs7Unpad removes PKCS7 padding. Every padding byte is checked, not just
// the last one, so truncated or corrupt blocks are rejected.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}

	return data[:len(data)-padLen], nil
}
