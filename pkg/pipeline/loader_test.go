package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelkit/diffusion-loader/pkg/logging"
)

// writeBundle lays out a minimal Stable Diffusion style bundle on disk.
// Weight files carry dummy bytes; the loader tolerates unparseable headers.
func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, dir, ManifestFilename, sampleManifest)

	writeFile(t, dir, "unet/config.json", `{"_class_name": "UNet2DConditionModel", "in_channels": 4}`)
	writeFile(t, dir, "unet/diffusion_pytorch_model.safetensors", "weights")
	writeFile(t, dir, "unet/diffusion_pytorch_model.fp16.safetensors", "weights")

	writeFile(t, dir, "vae/config.json", `{"_class_name": "AutoencoderKL"}`)
	writeFile(t, dir, "vae/diffusion_pytorch_model.safetensors", "weights")

	writeFile(t, dir, "text_encoder/config.json", `{"architectures": ["CLIPTextModel"]}`)
	writeFile(t, dir, "text_encoder/model.safetensors", "weights")
	writeFile(t, dir, "text_encoder/model.fp16.safetensors", "weights")

	writeFile(t, dir, "tokenizer/tokenizer_config.json", `{"model_max_length": 77}`)
	writeFile(t, dir, "tokenizer/vocab.json", "{}")
	writeFile(t, dir, "tokenizer/merges.txt", "")

	writeFile(t, dir, "scheduler/scheduler_config.json", `{"_class_name": "PNDMScheduler", "num_train_timesteps": 1000}`)

	writeFile(t, dir, "feature_extractor/preprocessor_config.json", `{"do_resize": true}`)

	return dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFromDirectory(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	p, err := loader.FromDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "StableDiffusionPipeline", p.ClassName())
	// safety_checker is a null entry and must not be assembled.
	assert.Equal(t, []string{"feature_extractor", "scheduler", "text_encoder", "tokenizer", "unet", "vae"}, p.Names())

	unet, ok := p.Component("unet")
	require.True(t, ok)
	assert.Equal(t, ComponentRef{Library: "diffusers", Class: "UNet2DConditionModel"}, unet.Ref())

	gc, ok := unet.(*GenericComponent)
	require.True(t, ok)
	// Default checkpoint wins when no variant is requested.
	require.Len(t, gc.WeightPaths(), 1)
	assert.Equal(t, filepath.Join(dir, "unet", "diffusion_pytorch_model.safetensors"), gc.WeightPaths()[0])

	sched, ok := p.Component("scheduler")
	require.True(t, ok)
	sc, ok := sched.(*SchedulerComponent)
	require.True(t, ok)
	steps, ok := sc.ConfigValue("num_train_timesteps")
	require.True(t, ok)
	assert.EqualValues(t, 1000, steps)

	_, ok = p.Component("safety_checker")
	assert.False(t, ok)
}

func TestFromDirectoryVariant(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	p, err := loader.FromDirectory(context.Background(), dir, WithVariant("fp16"))
	require.NoError(t, err)

	unet, _ := p.Component("unet")
	gc := unet.(*GenericComponent)
	require.Len(t, gc.WeightPaths(), 1)
	assert.Equal(t, filepath.Join(dir, "unet", "diffusion_pytorch_model.fp16.safetensors"), gc.WeightPaths()[0])
	assert.Equal(t, "fp16", gc.Spec().Selection.Variant)

	// vae has no fp16 files and falls back to the default checkpoint.
	vae, _ := p.Component("vae")
	vc := vae.(*GenericComponent)
	require.Len(t, vc.WeightPaths(), 1)
	assert.Equal(t, filepath.Join(dir, "vae", "diffusion_pytorch_model.safetensors"), vc.WeightPaths()[0])
	assert.True(t, vc.Spec().Selection.FellBack)
}

func TestFromDirectoryStrictVariant(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	_, err := loader.FromDirectory(context.Background(), dir, WithVariant("fp16"), WithStrictVariant())
	require.ErrorIs(t, err, ErrVariantNotAvailable)
	// The error should name the component that lacks the variant.
	assert.Contains(t, err.Error(), "vae")
}

func TestFromDirectoryOverrides(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	replacement, err := newGenericComponent(ComponentSpec{
		Name: "unet",
		Ref:  ComponentRef{Library: "diffusers", Class: "UNet2DConditionModel"},
	})
	require.NoError(t, err)

	// Remove the on-disk unet folder: overridden slots must never be
	// resolved from disk.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "unet")))

	p, err := loader.FromDirectory(context.Background(), dir, WithComponent("unet", replacement))
	require.NoError(t, err)

	got, ok := p.Component("unet")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestFromDirectoryDrop(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	p, err := loader.FromDirectory(context.Background(), dir, WithoutComponent("feature_extractor"))
	require.NoError(t, err)

	_, ok := p.Component("feature_extractor")
	assert.False(t, ok)
}

func TestFromDirectoryUnknownOverride(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	c, _ := newGenericComponent(ComponentSpec{Name: "extra"})
	_, err := loader.FromDirectory(context.Background(), dir, WithComponent("extra", c))
	require.ErrorIs(t, err, ErrComponentNotFound)

	_, err = loader.FromDirectory(context.Background(), dir, WithoutComponent("extra"))
	require.ErrorIs(t, err, ErrComponentNotFound)
}

func TestFromDirectoryMissingSubfolder(t *testing.T) {
	dir := writeBundle(t)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "unet")))

	loader := NewLoader(logging.NewNopLogger())
	_, err := loader.FromDirectory(context.Background(), dir)
	require.ErrorIs(t, err, ErrComponentNotFound)
	assert.Contains(t, err.Error(), "unet")
}

func TestFromDirectoryMissingManifest(t *testing.T) {
	loader := NewLoader(logging.NewNopLogger())
	_, err := loader.FromDirectory(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrManifestNotFound)
}

func TestFromDirectoryShardIndexReconciliation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFilename, `{
	  "_class_name": "FluxPipeline",
	  "transformer": ["diffusers", "FluxTransformer2DModel"]
	}`)
	writeFile(t, dir, "transformer/config.json", "{}")
	writeFile(t, dir, "transformer/diffusion_pytorch_model-00001-of-00002.safetensors", "weights")
	writeFile(t, dir, "transformer/diffusion_pytorch_model-00002-of-00002.safetensors", "weights")

	loader := NewLoader(logging.NewNopLogger())

	t.Run("matching index", func(t *testing.T) {
		idx := map[string]interface{}{
			"metadata": map[string]int64{"total_size": 14},
			"weight_map": map[string]string{
				"a": "diffusion_pytorch_model-00001-of-00002.safetensors",
				"b": "diffusion_pytorch_model-00002-of-00002.safetensors",
			},
		}
		data, err := json.Marshal(idx)
		require.NoError(t, err)
		writeFile(t, dir, "transformer/diffusion_pytorch_model.safetensors.index.json", string(data))

		p, err := loader.FromDirectory(context.Background(), dir)
		require.NoError(t, err)
		c, _ := p.Component("transformer")
		assert.Len(t, c.(*GenericComponent).WeightPaths(), 2)
	})

	t.Run("index referencing missing shard", func(t *testing.T) {
		idx := map[string]interface{}{
			"metadata": map[string]int64{"total_size": 21},
			"weight_map": map[string]string{
				"a": "diffusion_pytorch_model-00001-of-00002.safetensors",
				"b": "diffusion_pytorch_model-00002-of-00002.safetensors",
				"c": "diffusion_pytorch_model-00003-of-00002.safetensors",
			},
		}
		data, err := json.Marshal(idx)
		require.NoError(t, err)
		writeFile(t, dir, "transformer/diffusion_pytorch_model.safetensors.index.json", string(data))

		_, err = loader.FromDirectory(context.Background(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing shard")
	})
}

func TestFromDirectoryIncompleteShards(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFilename, `{
	  "_class_name": "FluxPipeline",
	  "transformer": ["diffusers", "FluxTransformer2DModel"]
	}`)
	writeFile(t, dir, "transformer/config.json", "{}")
	writeFile(t, dir, "transformer/diffusion_pytorch_model-00001-of-00003.safetensors", "weights")

	loader := NewLoader(logging.NewNopLogger())
	_, err := loader.FromDirectory(context.Background(), dir)
	require.ErrorIs(t, err, ErrIncompleteShards)
}

func TestFromDirectorySafetensorsOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFilename, `{
	  "_class_name": "StableDiffusionPipeline",
	  "unet": ["diffusers", "UNet2DConditionModel"]
	}`)
	writeFile(t, dir, "unet/config.json", "{}")
	writeFile(t, dir, "unet/diffusion_pytorch_model.bin", "weights")

	loader := NewLoader(logging.NewNopLogger())

	// Legacy bin weights load by default.
	p, err := loader.FromDirectory(context.Background(), dir)
	require.NoError(t, err)
	c, _ := p.Component("unet")
	require.Len(t, c.(*GenericComponent).WeightPaths(), 1)

	// But are refused under SafetensorsOnly.
	_, err = loader.FromDirectory(context.Background(), dir, WithSafetensorsOnly())
	require.ErrorIs(t, err, ErrNoWeights)
}

func TestFromDirectoryCancelledContext(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.FromDirectory(ctx, dir)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSwap(t *testing.T) {
	dir := writeBundle(t)
	loader := NewLoader(logging.NewNopLogger())

	p, err := loader.FromDirectory(context.Background(), dir)
	require.NoError(t, err)

	t.Run("compatible scheduler", func(t *testing.T) {
		replacement, err := newSchedulerComponent(ComponentSpec{
			Name: "scheduler",
			Ref:  ComponentRef{Library: "diffusers", Class: "EulerDiscreteScheduler"},
		})
		require.NoError(t, err)
		require.NoError(t, p.Swap("scheduler", replacement))

		got, _ := p.Component("scheduler")
		assert.Equal(t, "EulerDiscreteScheduler", got.Ref().Class)
	})

	t.Run("incompatible scheduler", func(t *testing.T) {
		replacement, err := newSchedulerComponent(ComponentSpec{
			Name: "scheduler",
			Ref:  ComponentRef{Library: "diffusers", Class: "FlowMatchEulerDiscreteScheduler"},
		})
		require.NoError(t, err)
		err = p.Swap("scheduler", replacement)
		require.ErrorIs(t, err, ErrIncompatibleScheduler)
	})

	t.Run("unknown slot", func(t *testing.T) {
		c, _ := newGenericComponent(ComponentSpec{Name: "unet"})
		err := p.Swap("does_not_exist", c)
		require.ErrorIs(t, err, ErrComponentNotFound)
	})

	t.Run("non-scheduler swap", func(t *testing.T) {
		c, _ := newGenericComponent(ComponentSpec{
			Name: "vae",
			Ref:  ComponentRef{Library: "diffusers", Class: "AutoencoderTiny"},
		})
		require.NoError(t, p.Swap("vae", c))
	})
}

func TestSchedulerCompatibility(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"DDIMScheduler", "EulerDiscreteScheduler", true},
		{"PNDMScheduler", "UniPCMultistepScheduler", true},
		{"FlowMatchEulerDiscreteScheduler", "FlowMatchHeunDiscreteScheduler", true},
		{"DDIMScheduler", "FlowMatchEulerDiscreteScheduler", false},
		{"DDIMScheduler", "NotAScheduler", false},
		{"MadeUpScheduler", "DDIMScheduler", false},
	}

	for _, tt := range tests {
		if got := CompatibleSchedulers(tt.a, tt.b); got != tt.want {
			t.Errorf("CompatibleSchedulers(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if !IsSchedulerClass("MadeUpScheduler") {
		t.Error("classes with the Scheduler suffix should be treated as schedulers")
	}
	if IsSchedulerClass("UNet2DConditionModel") {
		t.Error("UNet2DConditionModel is not a scheduler")
	}

	compat := CompatibleWith("DDIMScheduler")
	if len(compat) == 0 {
		t.Error("DDIMScheduler should have compatible classes")
	}
	for _, c := range compat {
		if c == "DDIMScheduler" {
			t.Error("CompatibleWith should exclude the class itself")
		}
	}
}
