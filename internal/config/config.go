// Package config loads the options that govern how a repository
// database is opened: the SQLite busy timeout, the default compression
// method for new writes, the dictionary training size, and whether
// chunk reassembly re-verifies content hashes. It layers defaults, an
// optional file, and environment variables through viper, the same
// configuration library the rest of this module's domain stack is
// built on.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// Options controls repository-open behavior.
type Options struct {
	// BusyTimeout bounds how long a writer waits for SQLITE_BUSY to
	// clear before giving up. Default 5s per the data model; 10s is
	// recommended under heavier write contention.
	BusyTimeout time.Duration

	// DefaultCompression is the method new object and chunk rows are
	// stored under when none is specified explicitly.
	DefaultCompression domain.Compression

	// DictionarySize is the target size, in bytes, of a trained zstd
	// dictionary.
	DictionarySize int

	// VerifyChunks re-hashes each chunk's decompressed bytes against its
	// chunk_sha key on every reassembly, surfacing objectstore's
	// ErrChunkCorrupt on mismatch. Off by default: the spec treats this
	// as a debug-build check, not an always-on cost on the read path.
	VerifyChunks bool
}

// Defaults returns the options this module ships with out of the box.
func Defaults() *Options {
	return &Options{
		BusyTimeout:        5 * time.Second,
		DefaultCompression: domain.CompressionNone,
		DictionarySize:     32 * 1024,
	}
}

// Load reads options from an optional config file at path (TOML, YAML
// and JSON are all auto-detected by viper from the extension) layered
// over Defaults, then over environment variables prefixed GITOBJDB_.
// A missing path is not an error; Load simply returns the defaults.
func Load(path string) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix("gitobjdb")
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("busy_timeout", d.BusyTimeout.String())
	v.SetDefault("default_compression", string(d.DefaultCompression))
	v.SetDefault("dictionary_size", d.DictionarySize)
	v.SetDefault("verify_chunks", d.VerifyChunks)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	busyTimeout, err := time.ParseDuration(v.GetString("busy_timeout"))
	if err != nil {
		return nil, fmt.Errorf("config: parse busy_timeout: %w", err)
	}

	compression := domain.Compression(v.GetString("default_compression"))
	if !compression.Valid() {
		return nil, fmt.Errorf("config: invalid default_compression %q", compression)
	}

	return &Options{
		BusyTimeout:        busyTimeout,
		DefaultCompression: compression,
		DictionarySize:     v.GetInt("dictionary_size"),
		VerifyChunks:       v.GetBool("verify_chunks"),
	}, nil
}
