package vdb

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/vdb/hlc"
)

const (
	DefaultCacheCapacity      = 10000
	DefaultListenerBuffer     = 16
	DefaultMetricsNamespace   = "vdb"
	DefaultPersistErrorBuffer = 64
)

// Options configure a Store. The yaml-tagged fields can be loaded from a
// file with LoadOptions; the rest are set in code.
type Options struct {
	Verbose bool `yaml:"verbose"`

	// CacheCapacity is the number of decoded values kept; negative disables
	// the cache.
	CacheCapacity int `yaml:"cache_capacity"`

	// ListenerBuffer is the channel buffer of each subscription. Events
	// beyond it are queued without bound.
	ListenerBuffer int `yaml:"listener_buffer"`

	// PersistPath opens a bbolt file for snapshots when Persistence is nil.
	PersistPath string `yaml:"persist_path"`

	// Compress compresses snapshots written to PersistPath with zstd.
	Compress bool `yaml:"compress"`

	// PersistErrorBuffer is the capacity of the PersistErrors channel.
	PersistErrorBuffer int `yaml:"persist_error_buffer"`

	MetricsNamespace string `yaml:"metrics_namespace"`

	Logger *slog.Logger `yaml:"-"`

	// Persistence receives record snapshots after commits. Nil (and no
	// PersistPath) keeps everything in memory only.
	Persistence Persistence `yaml:"-"`

	// Registerer gets the store's metrics; nil means a private registry,
	// available from Store.Registry.
	Registerer prometheus.Registerer `yaml:"-"`

	// Clock issues versions. Stores sharing a Clock get mutually ordered
	// versions. Nil starts a clock owned by the store.
	Clock *hlc.Clock `yaml:"-"`

	// WallClock is the time source of a store-owned Clock.
	WallClock clock.Clock `yaml:"-"`

	// OnPersistError is called from the persister goroutine for every failed
	// snapshot write.
	OnPersistError func(table string, err error) `yaml:"-"`
}

func (opt *Options) setDefaults() {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.CacheCapacity == 0 {
		opt.CacheCapacity = DefaultCacheCapacity
	}
	if opt.ListenerBuffer <= 0 {
		opt.ListenerBuffer = DefaultListenerBuffer
	}
	if opt.PersistErrorBuffer <= 0 {
		opt.PersistErrorBuffer = DefaultPersistErrorBuffer
	}
	if opt.MetricsNamespace == "" {
		opt.MetricsNamespace = DefaultMetricsNamespace
	}
}

// ParseOptions reads options from YAML.
func ParseOptions(data []byte) (Options, error) {
	var opt Options
	if err := yaml.Unmarshal(data, &opt); err != nil {
		return Options{}, fmt.Errorf("vdb: failed to parse options: %w", err)
	}
	return opt, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("vdb: failed to read options: %w", err)
	}
	return ParseOptions(data)
}
