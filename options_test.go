package vdb

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestParseOptions(t *testing.T) {
	opt, err := ParseOptions([]byte(`
verbose: true
cache_capacity: -1
listener_buffer: 4
persist_path: /tmp/x.bolt
compress: true
metrics_namespace: app
`))
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, opt.Verbose, true)
	deepEqual(t, opt.CacheCapacity, -1)
	deepEqual(t, opt.ListenerBuffer, 4)
	deepEqual(t, opt.PersistPath, "/tmp/x.bolt")
	deepEqual(t, opt.Compress, true)
	deepEqual(t, opt.MetricsNamespace, "app")

	_, err = ParseOptions([]byte("cache_capacity: [1"))
	if err == nil {
		t.Fatalf("** got nil error for malformed yaml")
	}
}

func TestOptionDefaults(t *testing.T) {
	var opt Options
	opt.setDefaults()
	deepEqual(t, opt.CacheCapacity, DefaultCacheCapacity)
	deepEqual(t, opt.ListenerBuffer, DefaultListenerBuffer)
	deepEqual(t, opt.PersistErrorBuffer, DefaultPersistErrorBuffer)
	deepEqual(t, opt.MetricsNamespace, DefaultMetricsNamespace)
	if opt.Logger == nil {
		t.Errorf("** no default logger")
	}

	opt = Options{CacheCapacity: -1, ListenerBuffer: 2}
	opt.setDefaults()
	deepEqual(t, opt.CacheCapacity, -1)
	deepEqual(t, opt.ListenerBuffer, 2)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vdb.yaml")
	if err := os.WriteFile(path, []byte("listener_buffer: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opt := must(LoadOptions(path))
	deepEqual(t, opt.ListenerBuffer, 8)

	_, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	isErr(t, err, fs.ErrNotExist)
}

func TestStoreMetricsNamespace(t *testing.T) {
	s := setup(t, func(o *Options) { o.MetricsNamespace = "app" })
	addItems(t, s, "items", item("x1", 1, 0, ""))
	if v := counterValue(t, s.Registry(), "app_writes_total", "items"); v != 1 {
		t.Errorf("** got %v writes, wanted 1", v)
	}
}
