package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSafetensors writes a minimal safetensors file containing the given
// header JSON object and zeroed tensor data.
func writeSafetensors(t *testing.T, dir, name string, header map[string]interface{}, dataSize int) string {
	t.Helper()

	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		t.Fatalf("write header length: %v", err)
	}
	if _, err := file.Write(headerBytes); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if dataSize > 0 {
		if _, err := file.Write(make([]byte, dataSize)); err != nil {
			t.Fatalf("write data: %v", err)
		}
	}

	return path
}

func TestParseHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeSafetensors(t, dir, "model.safetensors", map[string]interface{}{
		"__metadata__": map[string]interface{}{
			"format": "pt",
		},
		"conv_in.weight": map[string]interface{}{
			"dtype":        "F16",
			"shape":        []int64{320, 4, 3, 3},
			"data_offsets": []int64{0, 23040},
		},
		"conv_in.bias": map[string]interface{}{
			"dtype":        "F16",
			"shape":        []int64{320},
			"data_offsets": []int64{23040, 23680},
		},
	}, 23680)

	h, err := ParseHeader(path)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	if len(h.Tensors) != 2 {
		t.Errorf("got %d tensors, want 2", len(h.Tensors))
	}
	if got := h.Parameters(); got != 320*4*3*3+320 {
		t.Errorf("Parameters() = %d, want %d", got, 320*4*3*3+320)
	}
	if got := h.Quantization(); got != "F16" {
		t.Errorf("Quantization() = %q, want F16", got)
	}

	meta := h.StringMetadata()
	if meta["format"] != "pt" {
		t.Errorf("metadata format = %q, want pt", meta["format"])
	}
	if meta["tensor_count"] != "2" {
		t.Errorf("tensor_count = %q, want 2", meta["tensor_count"])
	}

	conv, ok := h.Tensors["conv_in.weight"]
	if !ok {
		t.Fatal("missing tensor conv_in.weight")
	}
	if conv.Dtype != "F16" || len(conv.Shape) != 4 || conv.DataOffsets[1] != 23040 {
		t.Errorf("unexpected tensor info: %+v", conv)
	}
}

func TestParseHeaderMixedDtypes(t *testing.T) {
	dir := t.TempDir()
	path := writeSafetensors(t, dir, "model.safetensors", map[string]interface{}{
		"a": map[string]interface{}{"dtype": "F16", "shape": []int64{2}, "data_offsets": []int64{0, 4}},
		"b": map[string]interface{}{"dtype": "F32", "shape": []int64{2}, "data_offsets": []int64{4, 12}},
	}, 12)

	h, err := ParseHeader(path)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got := h.Quantization(); got != "mixed" {
		t.Errorf("Quantization() = %q, want mixed", got)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		if _, err := ParseHeader(filepath.Join(dir, "nope.safetensors")); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		path := filepath.Join(dir, "short.safetensors")
		if err := os.WriteFile(path, []byte{0x01, 0x02}, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ParseHeader(path); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("oversized header length", func(t *testing.T) {
		path := filepath.Join(dir, "huge.safetensors")
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(maxHeaderSize)+1)
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := ParseHeader(path)
		if err == nil || !strings.Contains(err.Error(), "header length too large") {
			t.Errorf("expected header length error, got %v", err)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		garbage := []byte("not json")
		path := filepath.Join(dir, "garbage.safetensors")
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(len(garbage)))
		if err := os.WriteFile(path, append(buf, garbage...), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ParseHeader(path); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestParseIndex(t *testing.T) {
	dir := t.TempDir()

	idx := Index{
		Metadata: IndexMetadata{TotalSize: 100},
		WeightMap: map[string]string{
			"a.weight": "model-00001-of-00002.safetensors",
			"a.bias":   "model-00001-of-00002.safetensors",
			"b.weight": "model-00002-of-00002.safetensors",
		},
	}
	data, err := json.Marshal(idx)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "model.safetensors.index.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseIndex(path)
	if err != nil {
		t.Fatalf("ParseIndex: %v", err)
	}

	shards := parsed.ShardNames()
	want := []string{"model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors"}
	if len(shards) != 2 || shards[0] != want[0] || shards[1] != want[1] {
		t.Errorf("ShardNames() = %v, want %v", shards, want)
	}

	if err := parsed.Reconcile(want); err != nil {
		t.Errorf("Reconcile with all shards present: %v", err)
	}
	if err := parsed.Reconcile(want[:1]); err == nil {
		t.Error("Reconcile with a missing shard should fail")
	}
	// Extra on-disk files are tolerated.
	if err := parsed.Reconcile(append(want, "config.json")); err != nil {
		t.Errorf("Reconcile with extra files: %v", err)
	}
}

func TestParseIndexEmptyWeightMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.index.json")
	if err := os.WriteFile(path, []byte(`{"metadata":{"total_size":0},"weight_map":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseIndex(path); err == nil {
		t.Error("expected error for empty weight map")
	}
}
