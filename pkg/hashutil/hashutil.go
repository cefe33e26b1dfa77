// Package hashutil computes the hash flavors used by fingerprints and probes:
// sha256, md5, MurmurHash3 in the favicon convention of the scan services, and
// 64-bit perceptual hashes for images.
package hashutil

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
	"github.com/twmb/murmur3"
)

// PHashMaxDistance is the Hamming distance (out of 64 bits) up to which two
// perceptual hashes are considered a match.
const PHashMaxDistance = 10

// SHA256Hex returns the lowercase hex SHA-256 digest of content.
func SHA256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// MD5Hex returns the lowercase hex MD5 digest of content.
func MD5Hex(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// FaviconMMH3 returns the favicon hash convention used by the scan services:
// MurmurHash3 (32-bit, signed decimal) over the MIME base64 encoding of the
// content, with a line break after every 76 characters and a trailing newline.
func FaviconMMH3(content []byte) string {
	return mmh3String(mimeBase64(content))
}

// MMH3 returns MurmurHash3 (32-bit, signed decimal) over the plain standard
// base64 encoding of the content, without line breaks. Some services hash
// image bodies this way rather than with the favicon convention.
func MMH3(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	return mmh3String([]byte(encoded))
}

func mmh3String(encoded []byte) string {
	return strconv.Itoa(int(int32(murmur3.Sum32(encoded))))
}

// mimeBase64 reproduces RFC 2045 base64: 76-character lines, each terminated
// by a newline.
func mimeBase64(content []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(content)
	var buf bytes.Buffer
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteByte('\n')
		encoded = encoded[76:]
	}
	if len(encoded) > 0 {
		buf.WriteString(encoded)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// PHashHex decodes the image content and returns its 64-bit perceptual hash
// as 16 lowercase hex characters.
func PHashHex(content []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perceptual hash: %w", err)
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}

// PHashDistance returns the Hamming distance between two hex-encoded 64-bit
// perceptual hashes.
func PHashDistance(a, b string) (int, error) {
	av, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse phash %q: %w", a, err)
	}
	bv, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse phash %q: %w", b, err)
	}
	return bits.OnesCount64(av ^ bv), nil
}

// PHashMatch reports whether two hex-encoded perceptual hashes are within
// PHashMaxDistance bits of each other.
func PHashMatch(a, b string) bool {
	if a == b {
		return true
	}
	distance, err := PHashDistance(a, b)
	if err != nil {
		return false
	}
	return distance <= PHashMaxDistance
}
