package store

import "encoding/hex"

func hexSignature(sig []byte) string {
	return hex.EncodeToString(sig)
}

func decodeSignature(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
