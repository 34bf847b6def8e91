package safetar

import (
	"os"
	"strconv"
	"sync"
)

const (
	defaultMaxFileSize      int64   = 1 << 30 // 1 GiB
	defaultMaxTotalSize     int64   = 5 << 30  // 5 GiB
	defaultMaxFiles         int     = 10_000
	defaultMaxRatio         float64 = 200.0
	defaultMaxNestingDepth  int     = 3
	defaultStripSpecialBits bool    = true
	defaultStripWriteBits   bool    = false
	defaultPreserveOwner    bool    = false
	defaultClampTimestamps  bool    = true
)

// Config holds every tunable limit and policy for an extraction. Open starts
// from DefaultConfig, which takes each field from its environment variable
// (or the package defaults above), and applies the caller's Options on top;
// the environment is read once and cached, mirroring the module-level
// singletons the original implementation evaluates once at import time.
type Config struct {
	MaxFileSize      int64
	MaxTotalSize     int64
	MaxFiles         int
	MaxRatio         float64
	MaxNestingDepth  int
	NestingDepth     int
	SymlinkPolicy    SymlinkPolicy
	HardlinkPolicy   HardlinkPolicy
	SparsePolicy     SparsePolicy
	StripSpecialBits bool
	StripWriteBits   bool
	PreserveOwner    bool
	ClampTimestamps   bool
	OnSecurityEvent   OnSecurityEvent
	OnMemberExtracted func(name string)
}

var (
	envDefaultsOnce sync.Once
	envDefaults     Config
)

// DefaultConfig returns a Config populated from SAFETAR_* environment
// variables, falling back silently to the package defaults for any
// variable that is unset or fails to parse. The environment is sampled
// exactly once per process.
func DefaultConfig() Config {
	envDefaultsOnce.Do(func() {
		envDefaults = Config{
			MaxFileSize:      envInt64("SAFETAR_MAX_FILE_SIZE", defaultMaxFileSize),
			MaxTotalSize:     envInt64("SAFETAR_MAX_TOTAL_SIZE", defaultMaxTotalSize),
			MaxFiles:         envInt("SAFETAR_MAX_FILES", defaultMaxFiles),
			MaxRatio:         envFloat("SAFETAR_MAX_RATIO", defaultMaxRatio),
			MaxNestingDepth:  envInt("SAFETAR_MAX_NESTING_DEPTH", defaultMaxNestingDepth),
			SymlinkPolicy:    envSymlinkPolicy("SAFETAR_SYMLINK_POLICY", SymlinkReject),
			HardlinkPolicy:   envHardlinkPolicy("SAFETAR_HARDLINK_POLICY", HardlinkReject),
			SparsePolicy:     envSparsePolicy("SAFETAR_SPARSE_POLICY", SparseReject),
			StripSpecialBits: envBool("SAFETAR_STRIP_SPECIAL_BITS", defaultStripSpecialBits),
			StripWriteBits:   envBool("SAFETAR_STRIP_WRITE_BITS", defaultStripWriteBits),
			PreserveOwner:    envBool("SAFETAR_PRESERVE_OWNERSHIP", defaultPreserveOwner),
			ClampTimestamps:  envBool("SAFETAR_CLAMP_TIMESTAMPS", defaultClampTimestamps),
		}
	})
	return envDefaults
}

// Option mutates a Config being built by Open. Grounded on the functional
// options idiom: each Option returns an error so that validating options
// (none currently need to) can reject out-of-range values uniformly.
type Option func(*Config) error

func applyOptions(cfg Config, opts []Option) (Config, error) {
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// WithMaxFileSize overrides the per-member byte cap.
func WithMaxFileSize(n int64) Option {
	return func(c *Config) error { c.MaxFileSize = n; return nil }
}

// WithMaxTotalSize overrides the aggregate extracted-byte cap.
func WithMaxTotalSize(n int64) Option {
	return func(c *Config) error { c.MaxTotalSize = n; return nil }
}

// WithMaxFiles overrides the archive member-count cap.
func WithMaxFiles(n int) Option {
	return func(c *Config) error { c.MaxFiles = n; return nil }
}

// WithMaxRatio overrides the aggregate decompressed/compressed ratio cap.
func WithMaxRatio(r float64) Option {
	return func(c *Config) error { c.MaxRatio = r; return nil }
}

// WithMaxNestingDepth overrides the caller-tracked nesting depth cap.
func WithMaxNestingDepth(n int) Option {
	return func(c *Config) error { c.MaxNestingDepth = n; return nil }
}

// WithNestingDepth records how many archives-within-archives deep this
// Open call already is. safetar never auto-descends into a nested archive
// itself (that remains the caller's responsibility); this option only lets
// a caller that does its own recursive descent report its current depth so
// Open can reject it once MaxNestingDepth is reached.
func WithNestingDepth(n int) Option {
	return func(c *Config) error { c.NestingDepth = n; return nil }
}

// WithSymlinkPolicy overrides the symlink disposition policy.
func WithSymlinkPolicy(p SymlinkPolicy) Option {
	return func(c *Config) error { c.SymlinkPolicy = p; return nil }
}

// WithHardlinkPolicy overrides the hardlink disposition policy.
func WithHardlinkPolicy(p HardlinkPolicy) Option {
	return func(c *Config) error { c.HardlinkPolicy = p; return nil }
}

// WithSparsePolicy overrides the sparse-member disposition policy.
func WithSparsePolicy(p SparsePolicy) Option {
	return func(c *Config) error { c.SparsePolicy = p; return nil }
}

// WithStripSpecialBits controls whether setuid/setgid/sticky bits are
// cleared from extracted file modes.
func WithStripSpecialBits(strip bool) Option {
	return func(c *Config) error { c.StripSpecialBits = strip; return nil }
}

// WithStripWriteBits controls whether the 0o222 write bits are additionally
// cleared from extracted file modes, on top of whatever WithStripSpecialBits
// already clears.
func WithStripWriteBits(strip bool) Option {
	return func(c *Config) error { c.StripWriteBits = strip; return nil }
}

// WithPreserveOwnership controls whether archived uid/gid are applied
// verbatim instead of the extracting process's own uid/gid.
func WithPreserveOwnership(preserve bool) Option {
	return func(c *Config) error { c.PreserveOwner = preserve; return nil }
}

// WithClampTimestamps controls whether out-of-range mtimes are clamped to
// the current time instead of applied verbatim.
func WithClampTimestamps(clamp bool) Option {
	return func(c *Config) error { c.ClampTimestamps = clamp; return nil }
}

// WithSecurityEventCallback registers a callback invoked once per rejected
// member. Panics inside the callback are recovered and logged, never
// propagated.
func WithSecurityEventCallback(cb OnSecurityEvent) Option {
	return func(c *Config) error { c.OnSecurityEvent = cb; return nil }
}

// WithMemberExtractedCallback registers a callback invoked after each
// member is successfully extracted (or skipped under a non-rejecting
// policy), purely for caller-side progress reporting. Symlinks deferred
// under SymlinkResolveInternal are created after the member loop and do not
// trigger it.
func WithMemberExtractedCallback(cb func(name string)) Option {
	return func(c *Config) error { c.OnMemberExtracted = cb; return nil }
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSymlinkPolicy(key string, def SymlinkPolicy) SymlinkPolicy {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch SymlinkPolicy(v) {
	case SymlinkReject, SymlinkIgnore, SymlinkResolveInternal:
		return SymlinkPolicy(v)
	default:
		return def
	}
}

func envHardlinkPolicy(key string, def HardlinkPolicy) HardlinkPolicy {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch HardlinkPolicy(v) {
	case HardlinkReject, HardlinkInternal:
		return HardlinkPolicy(v)
	default:
		return def
	}
}

func envSparsePolicy(key string, def SparsePolicy) SparsePolicy {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch SparsePolicy(v) {
	case SparseReject, SparseMaterialise:
		return SparsePolicy(v)
	default:
		return def
	}
}
