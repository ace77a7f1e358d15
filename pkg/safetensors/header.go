// Package safetensors reads safetensors weight file headers and sharded
// weight index files without loading tensor data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const (
	// maxHeaderSize bounds the JSON header length read from a file.
	// Headers larger than this indicate corruption.
	maxHeaderSize = 100 * 1024 * 1024

	quantizationUnknown = "unknown"
	quantizationMixed   = "mixed"
)

// Header is the parsed JSON header of a safetensors file.
type Header struct {
	// Metadata holds the free-form "__metadata__" section.
	Metadata map[string]interface{}
	// Tensors maps tensor names to their layout information.
	Tensors map[string]TensorInfo
}

// TensorInfo contains layout information about a single tensor.
type TensorInfo struct {
	Dtype       string
	Shape       []int64
	DataOffsets [2]int64
}

// ParseHeader reads only the header from a safetensors file without loading
// the entire file. The format is an 8-byte little-endian header length
// followed by a JSON object.
func ParseHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var headerLen uint64
	if err := binary.Read(file, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}

	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header length too large: %d bytes", headerLen)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rawHeader map[string]interface{}
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, fmt.Errorf("parse JSON header: %w", err)
	}

	// Metadata is stored under the "__metadata__" key alongside tensors.
	var metadata map[string]interface{}
	if rawMetadata, ok := rawHeader["__metadata__"].(map[string]interface{}); ok {
		metadata = rawMetadata
		delete(rawHeader, "__metadata__")
	}

	tensors := make(map[string]TensorInfo)
	for name, value := range rawHeader {
		tensorMap, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		dtype, _ := tensorMap["dtype"].(string)

		var shape []int64
		if shapeArray, ok := tensorMap["shape"].([]interface{}); ok {
			for index, v := range shapeArray {
				floatVal, ok := v.(float64)
				if !ok {
					return nil, fmt.Errorf("invalid shape value for tensor %q at index %d: expected number, got %T", name, index, v)
				}
				shape = append(shape, int64(floatVal))
			}
		}

		var dataOffsets [2]int64
		if offsetsArray, ok := tensorMap["data_offsets"].([]interface{}); ok {
			if len(offsetsArray) != 2 {
				return nil, fmt.Errorf("invalid data_offsets for tensor %q: expected 2 elements, got %d", name, len(offsetsArray))
			}
			for index, offset := range offsetsArray {
				floatVal, ok := offset.(float64)
				if !ok {
					return nil, fmt.Errorf("invalid data_offsets value for tensor %q at index %d: expected number, got %T", name, index, offset)
				}
				dataOffsets[index] = int64(floatVal)
			}
		}

		tensors[name] = TensorInfo{
			Dtype:       dtype,
			Shape:       shape,
			DataOffsets: dataOffsets,
		}
	}

	return &Header{
		Metadata: metadata,
		Tensors:  tensors,
	}, nil
}

// Parameters sums the element counts of all tensors.
func (h *Header) Parameters() int64 {
	var total int64
	for _, tensor := range h.Tensors {
		params := int64(1)
		for _, dim := range tensor.Shape {
			params *= dim
		}
		total += params
	}
	return total
}

// Quantization summarizes the tensor dtypes: the common dtype when uniform,
// "mixed" when tensors disagree, "unknown" when no dtype is present.
func (h *Header) Quantization() string {
	if len(h.Tensors) == 0 {
		return quantizationUnknown
	}

	dtypeCounts := make(map[string]int)
	for _, tensor := range h.Tensors {
		if tensor.Dtype != "" {
			dtypeCounts[tensor.Dtype]++
		}
	}

	if len(dtypeCounts) == 0 {
		return quantizationUnknown
	}

	if len(dtypeCounts) == 1 {
		for dtype := range dtypeCounts {
			return dtype
		}
	}

	return quantizationMixed
}

// StringMetadata flattens the header metadata to a string map and adds the
// tensor count.
func (h *Header) StringMetadata() map[string]string {
	metadata := make(map[string]string)

	if h.Metadata != nil {
		for k, v := range h.Metadata {
			metadata[k] = fmt.Sprintf("%v", v)
		}
	}

	metadata["tensor_count"] = fmt.Sprintf("%d", len(h.Tensors))

	return metadata
}
