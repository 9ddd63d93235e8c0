// Package config loads the node configuration and wires a running engine
// from it.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pipeline/internal/bus/redisbus"
	"github.com/roach88/pipeline/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// Config is the on-disk configuration of one node.
type Config struct {
	Node       NodeConfig       `yaml:"node" json:"node"`
	Logger     LoggerConfig     `yaml:"logger" json:"logger"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Bus        BusConfig        `yaml:"bus" json:"bus"`
	LocalCache LocalCacheConfig `yaml:"local_cache" json:"local_cache"`
	Lock       LockConfig       `yaml:"lock" json:"lock"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`

	// Types are served with the pass-through document codec.
	Types []string `yaml:"types" json:"types,omitempty"`
}

type NodeConfig struct {
	// ID defaults to a fresh UUIDv7 when empty.
	ID string `yaml:"id" json:"id"`
}

type LoggerConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

type CacheConfig struct {
	Driver         string   `yaml:"driver" json:"driver"`
	Addr           string   `yaml:"addr" json:"addr"`
	Servers        []string `yaml:"servers" json:"servers,omitempty"`
	Prefix         string   `yaml:"prefix" json:"prefix"`
	Root           string   `yaml:"root" json:"root"`
	TTL            Duration `yaml:"ttl" json:"ttl"`
	SessionTimeout Duration `yaml:"session_timeout" json:"session_timeout"`
}

type BusConfig struct {
	Driver  string `yaml:"driver" json:"driver"`
	Addr    string `yaml:"addr" json:"addr"`
	Channel string `yaml:"channel" json:"channel"`
}

type LocalCacheConfig struct {
	Capacity          int      `yaml:"capacity" json:"capacity"`
	ExpireAfterWrite  Duration `yaml:"expire_after_write" json:"expire_after_write"`
	ExpireAfterAccess Duration `yaml:"expire_after_access" json:"expire_after_access"`
}

type LockConfig struct {
	TTL Duration `yaml:"ttl" json:"ttl"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Duration is a time.Duration written as "5s" in both YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a single-node, in-memory configuration.
func Default() Config {
	return Config{
		Logger:  LoggerConfig{Level: "info"},
		Storage: StorageConfig{Driver: "memory"},
		Cache: CacheConfig{
			Driver:         "memory",
			Prefix:         "pipeline",
			Root:           "/pipeline",
			SessionTimeout: Duration(10 * time.Second),
		},
		Bus: BusConfig{
			Driver:  "memory",
			Channel: redisbus.DefaultChannel,
		},
		LocalCache: LocalCacheConfig{Capacity: engine.DefaultLocalCapacity},
		Lock:       LockConfig{TTL: Duration(engine.DefaultLockTTL)},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Types:      []string{"document"},
	}
}

// Load reads path over Default and validates the result. A missing file
// yields the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("validate: schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
