package pipeline

// defaultMaxConcurrency bounds concurrent component resolution when the
// caller does not set a limit.
const defaultMaxConcurrency = 4

// loadOptions collects the knobs applied during FromDirectory.
type loadOptions struct {
	variant         string
	strictVariant   bool
	safetensorsOnly bool
	maxConcurrency  int
	overrides       map[string]Component
	drops           map[string]struct{}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	o := loadOptions{
		maxConcurrency: defaultMaxConcurrency,
		overrides:      make(map[string]Component),
		drops:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LoadOption configures a FromDirectory call.
type LoadOption func(*loadOptions)

// WithVariant requests the given checkpoint variant (e.g. "fp16"). Components
// lacking the variant fall back to the default checkpoint with a warning,
// unless WithStrictVariant is also set.
func WithVariant(v string) LoadOption {
	return func(o *loadOptions) {
		o.variant = v
	}
}

// WithStrictVariant disables the fallback from the requested variant to the
// default checkpoint; a missing variant becomes an error.
func WithStrictVariant() LoadOption {
	return func(o *loadOptions) {
		o.strictVariant = true
	}
}

// WithSafetensorsOnly refuses components whose weights are only available in
// a format other than safetensors.
func WithSafetensorsOnly() LoadOption {
	return func(o *loadOptions) {
		o.safetensorsOnly = true
	}
}

// WithMaxConcurrency bounds the number of components resolved concurrently.
// Values below one disable the bound.
func WithMaxConcurrency(n int) LoadOption {
	return func(o *loadOptions) {
		o.maxConcurrency = n
	}
}

// WithComponent supplies a pre-built component for the named slot. The slot
// is not resolved from disk; the supplied component is used as-is.
func WithComponent(name string, c Component) LoadOption {
	return func(o *loadOptions) {
		o.overrides[name] = c
	}
}

// WithoutComponent drops the named slot from the assembled pipeline even if
// the manifest declares it.
func WithoutComponent(name string) LoadOption {
	return func(o *loadOptions) {
		o.drops[name] = struct{}{}
	}
}
