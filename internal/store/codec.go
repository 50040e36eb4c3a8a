// Package store persists per-day record batches and merged window
// snapshots as codec-encoded blobs under the run output directory.
package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	lz4Extension  = ".json.lz4"
)

// Codec defines how a record batch is serialized and deserialized.
type Codec interface {
	// Encode writes the value to the writer.
	Encode(w io.Writer, value any) error
	// Decode reads the value from the reader.
	Decode(r io.Reader, value any) error
	// Extension returns the file extension for this codec.
	Extension() string
}

// JSONCodec implements Codec with plain indented JSON.
type JSONCodec struct{}

// NewJSONCodec creates a plain JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, value any) error {
	err := json.NewDecoder(r).Decode(value)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// LZ4Codec implements Codec as LZ4-framed JSON. Record batches are highly
// repetitive and compress well.
type LZ4Codec struct{}

// NewLZ4Codec creates an LZ4-compressed JSON codec.
func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{}
}

// Encode implements Codec.Encode as JSON inside an LZ4 frame.
func (c *LZ4Codec) Encode(w io.Writer, value any) error {
	compressor := lz4.NewWriter(w)

	err := json.NewEncoder(compressor).Encode(value)
	if err != nil {
		return fmt.Errorf("lz4 json encode: %w", err)
	}

	err = compressor.Close()
	if err != nil {
		return fmt.Errorf("lz4 flush: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode for LZ4-framed JSON.
func (c *LZ4Codec) Decode(r io.Reader, value any) error {
	err := json.NewDecoder(lz4.NewReader(r)).Decode(value)
	if err != nil {
		return fmt.Errorf("lz4 json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for LZ4-framed JSON files.
func (c *LZ4Codec) Extension() string {
	return lz4Extension
}
