// Package zarr reads and writes Zarr v3 array stores, the on-disk format
// for spectral maps and fit-result cubes. Arrays are 3-D
// (rows, cols, depth); chunk payloads are little-endian, optionally
// zstd-compressed.
package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ArrayMeta is the Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
	Shape      []int  `json:"shape"`
	DataType   string `json:"data_type"`
	ChunkGrid  struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue interface{} `json:"fill_value"`
	Codecs    []struct {
		Name          string                 `json:"name"`
		Configuration map[string]interface{} `json:"configuration"`
	} `json:"codecs"`
}

// GroupMeta is the Zarr v3 group metadata written at a store root when an
// array lives below it.
type GroupMeta struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

// decodeValues converts a little-endian chunk payload to float64 values.
func decodeValues(raw []byte, dataType string) ([]float64, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("chunk payload of %d bytes is not a multiple of %d-byte %s", len(raw), size, dataType)
	}
	n := len(raw) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch dataType {
		case "int8":
			out[i] = float64(int8(b[0]))
		case "uint8":
			out[i] = float64(b[0])
		case "int16":
			out[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case "uint16":
			out[i] = float64(binary.LittleEndian.Uint16(b))
		case "int32":
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case "uint32":
			out[i] = float64(binary.LittleEndian.Uint32(b))
		case "int64":
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case "uint64":
			out[i] = float64(binary.LittleEndian.Uint64(b))
		case "float32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "float64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}
	return out, nil
}

// encodeValues converts float64 values to a little-endian chunk payload.
func encodeValues(vals []float64, dataType string) ([]byte, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(vals)*size)
	for i, v := range vals {
		b := out[i*size:]
		switch dataType {
		case "int8":
			b[0] = byte(int8(v))
		case "uint8":
			b[0] = byte(uint8(v))
		case "int16":
			binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		case "uint16":
			binary.LittleEndian.PutUint16(b, uint16(v))
		case "int32":
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		case "uint32":
			binary.LittleEndian.PutUint32(b, uint32(v))
		case "int64":
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		case "uint64":
			binary.LittleEndian.PutUint64(b, uint64(v))
		case "float32":
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case "float64":
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		}
	}
	return out, nil
}

// fillValueOf extracts the fill value as a float64. Missing or null fill
// values default to zero.
func fillValueOf(meta *ArrayMeta) (float64, error) {
	switch v := meta.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		// Zarr encodes non-finite floats as strings.
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("unsupported fill_value %q", v)
	default:
		return 0, fmt.Errorf("unsupported fill_value type %T", meta.FillValue)
	}
}
