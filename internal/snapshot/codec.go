// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Blobs are CBOR (Core Deterministic Encoding, RFC 8949 §4.2) compressed
// with zstd. Deterministic encoding means the same captured state always
// produces identical bytes on disk.

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// Shared across calls; both are safe for concurrent use.
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// The default integer epoch encoding truncates timestamps to whole
	// seconds; points created in quick succession must still order.
	encOptions.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeBlob serializes v into a compressed blob.
func encodeBlob(v any) ([]byte, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// decodeBlob deserializes a compressed blob into v.
func decodeBlob(data []byte, v any) error {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress blob: %w", err)
	}
	if err := decMode.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode blob: %w", err)
	}
	return nil
}
