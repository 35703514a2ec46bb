package export

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"LiveBoard/internal/state"
)

const formatVersion = 1

type document struct {
	Version int               `json:"version"`
	Ops     []state.Operation `json:"ops"`
}

// SerializeBoard encodes a committed log in the wire form of its operations.
func SerializeBoard(ops []state.Operation) ([]byte, error) {
	if err := checkLog(ops, state.Limits{}); err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []state.Operation{}
	}
	return json.Marshal(document{Version: formatVersion, Ops: ops})
}

// DeserializeBoard decodes what SerializeBoard produced. Every operation is
// validated against the default limits and sequences must run 1, 2, 3...
func DeserializeBoard(data []byte) ([]state.Operation, error) {
	return DeserializeBoardWithLimits(data, state.DefaultLimits())
}

// DeserializeBoardWithLimits is DeserializeBoard for a board configured with
// other limits than the defaults.
func DeserializeBoardWithLimits(data []byte, limits state.Limits) ([]state.Operation, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("decode board: unsupported version %d", doc.Version)
	}
	if err := checkLog(doc.Ops, limits); err != nil {
		return nil, err
	}
	return doc.Ops, nil
}

// checkLog verifies sequence order, and validates each operation when
// limits are set.
func checkLog(ops []state.Operation, limits state.Limits) error {
	for i, op := range ops {
		if op.Sequence != uint64(i+1) {
			return fmt.Errorf("operation %s: sequence %d, want %d", op.ID, op.Sequence, i+1)
		}
		if limits.MaxWidth == 0 {
			continue
		}
		if err := state.Validate(op, limits); err != nil {
			return fmt.Errorf("operation %s: %w", op.ID, err)
		}
	}
	return nil
}

func SaveFile(path string, ops []state.Operation) error {
	data, err := SerializeBoard(ops)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads a log saved by SaveFile, validating it against limits.
func LoadFile(path string, limits state.Limits) ([]state.Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DeserializeBoardWithLimits(data, limits)
}

// WritePNG encodes a rendered frame.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WritePNG(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
