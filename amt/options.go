package amt

import "log/slog"

type config struct {
	bitWidth         uint
	bitWidthSet      bool
	version          Version
	legacyMutIterate bool
	logger           *slog.Logger
}

func defaultConfig() *config {
	return &config{
		bitWidth: defaultBitWidth,
		version:  V3,
		logger:   slog.Default().With("system", "amt"),
	}
}

// Option configures an AMT handle.
type Option func(*config)

// UseTreeBitWidth sets the bit width of new AMTs. Each node then has
// 1 << bitWidth slots. When loading, the stored width must match.
func UseTreeBitWidth(bitWidth uint) Option {
	return func(c *config) {
		c.bitWidth = bitWidth
		c.bitWidthSet = true
	}
}

// UseVersion selects the root layout. Defaults to V3.
func UseVersion(v Version) Option {
	return func(c *config) {
		c.version = v
	}
}

// UseLegacyMutIteration makes ForEachMut and ForEachWhileMut buffer changed
// values and write them back with Set once the walk is over, instead of
// updating nodes in place. This matches the write pattern of older
// implementations that mutate the tree while iterating it. Reads and writes
// against the store are not interleaved the same way, and a failure while
// replaying leaves the earlier replayed writes applied.
func UseLegacyMutIteration() Option {
	return func(c *config) {
		c.legacyMutIterate = true
	}
}

func UseLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func buildConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.version == nil {
		cfg.version = V3
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if err := cfg.version.checkBitWidth(cfg.bitWidth); err != nil {
		return nil, err
	}
	return cfg, nil
}
