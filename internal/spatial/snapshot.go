package spatial

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
)

// WriteSnapshot writes the loaded points as a zstd-compressed GeoJSON feature collection
func (sc *Supercluster) WriteSnapshot(w io.Writer) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range sc.Points() {
		fc.Append(f)
	}

	bufWriter := bufio.NewWriterSize(w, 64*1024)
	enc, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(fc); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot
func ReadSnapshot(r io.Reader) ([]*geojson.Feature, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return fc.Features, nil
}
