package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/massget/massget"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "massget.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadDefaults(t *testing.T) {

	cfg, err := Load("")

	if err != nil {
		t.Fatal(err)
	}

	opts := cfg.Options()

	if opts.BufferSize != massget.DefaultBufferSize {
		t.Errorf("buffer: wants %d but got %d", massget.DefaultBufferSize, opts.BufferSize)
	}

	if opts.ChunkSize != massget.DefaultChunkSize {
		t.Errorf("chunk: wants %d but got %d", massget.DefaultChunkSize, opts.ChunkSize)
	}

	if opts.MinForkSize != massget.DefaultMinForkSize {
		t.Errorf("min fork: wants %d but got %d", massget.DefaultMinForkSize, opts.MinForkSize)
	}

	if opts.ForkInterval != massget.DefaultForkInterval || opts.RetryInterval != massget.DefaultRetryInterval {
		t.Errorf("unexpected intervals: %v %v", opts.ForkInterval, opts.RetryInterval)
	}

	if opts.Interval != massget.DefaultInterval {
		t.Errorf("progress interval: wants %v but got %v", massget.DefaultInterval, opts.Interval)
	}

	if cfg.Download.Dir != "." {
		t.Errorf("dir: wants . but got %q", cfg.Download.Dir)
	}
}

func TestLoadFile(t *testing.T) {

	path := writeConfig(t, `
download:
  dir: /tmp/out
  buffer: 16MiB
  headers:
    - "Authorization: Bearer token"
fork:
  interval: 2s
  max_getters: 4
retry:
  count: 5
  interval: 100ms
log:
  level: debug
`)

	cfg, err := Load(path)

	if err != nil {
		t.Fatal(err)
	}

	opts := cfg.Options()

	if opts.BufferSize != 16*1024*1024 {
		t.Errorf("buffer: got %d", opts.BufferSize)
	}

	if opts.MaxGetters != 4 || opts.RetryCount != 5 {
		t.Errorf("unexpected limits: %d getters, %d retries", opts.MaxGetters, opts.RetryCount)
	}

	if opts.ForkInterval != 2*time.Second || opts.RetryInterval != 100*time.Millisecond {
		t.Errorf("unexpected intervals: %v %v", opts.ForkInterval, opts.RetryInterval)
	}

	if len(opts.Header) != 1 || opts.Header[0].Key != "Authorization" || opts.Header[0].Value != "Bearer token" {
		t.Errorf("unexpected headers: %+v", opts.Header)
	}

	if cfg.Download.Dir != "/tmp/out" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadEnv(t *testing.T) {

	t.Setenv("MASSGET_FORK_MAX_GETTERS", "3")

	cfg, err := Load("")

	if err != nil {
		t.Fatal(err)
	}

	if cfg.Fork.MaxGetters != 3 {
		t.Errorf("max getters: wants 3 but got %d", cfg.Fork.MaxGetters)
	}
}

func TestLoadInvalid(t *testing.T) {

	tests := map[string]string{
		"bad size":   "download:\n  buffer: lots\n",
		"no getters": "fork:\n  max_getters: -1\n",
		"bad level":  "log:\n  level: loud\n",
		"bad header": "download:\n  headers: [\"nocolon\"]\n",
		"zero retry": "retry:\n  count: -2\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("Expecting error but got nil")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expecting error for a missing file")
	}
}
