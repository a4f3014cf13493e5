// Package codec holds the byte/string conversions the wire and storage formats
// agree on: standard base64 for anything binary, hex for opaque tokens.
package codec

import (
	"encoding/base64"
	"encoding/hex"
)

func B64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
