package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx        *cue.Context
	schema        cue.Value
	runtimeSchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}

	runtimeSchema = compiled.LookupPath(cue.ParsePath("#Runtime"))
	if runtimeSchema.Err() != nil {
		panic(runtimeSchema.Err())
	}
}

type Config struct {
	Version  int            `json:"version" yaml:"version"` // fixed 0 for now
	Verbose  bool           `json:"verbose" yaml:"verbose"`
	Job      JobConfig      `json:"job" yaml:"job"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
	Notifier NotifierConfig `json:"notifier" yaml:"notifier"`
}

// JobConfig points to the job root. Every client owns {path}/{client}.
type JobConfig struct {
	Path      string `json:"path" yaml:"path"`
	Extension string `json:"extension" yaml:"extension"`
	LibPath   string `json:"libPath,omitempty" yaml:"libPath,omitempty"` // auxiliary script libraries
}

type EngineConfig struct {
	Workers         int      `json:"workers" yaml:"workers"`
	Queue           int      `json:"queue" yaml:"queue"`
	Timeout         Duration `json:"timeout" yaml:"timeout"` // 0 disables the timeout
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

type ServerConfig struct {
	Addr      string  `json:"addr" yaml:"addr"`
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit"` // requests per second, 0 is unlimited
	Burst     int     `json:"burst" yaml:"burst"`
}

type StoreConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn" yaml:"dsn"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"` // mongo only
}

// BatchConfig enables periodic rescan of the job root. Cron wins over Every
// when both are set.
type BatchConfig struct {
	Every Duration `json:"every" yaml:"every"`
	Cron  string   `json:"cron,omitempty" yaml:"cron,omitempty"`
}

type NotifierConfig struct {
	Buffer int `json:"buffer" yaml:"buffer"` // per subscriber, 0 is unbounded
}

// DefaultConfig returns the configuration written on the first start.
func DefaultConfig(jobPath string) Config {
	return Config{
		Version: 0,
		Job: JobConfig{
			Path:      jobPath,
			Extension: ".go",
		},
		Engine: EngineConfig{
			Workers:         4,
			Queue:           64,
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Driver: StoreMemory,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Validate checks the final configuration, after env and flag overrides were
// applied, against the runtime schema.
func (c Config) Validate() error {
	v := cueCtx.Encode(c)
	if v.Err() != nil {
		return fmt.Errorf("encoding config: %w", v.Err())
	}
	return runtimeSchema.Unify(v).Validate(cue.All(), cue.Concrete(true))
}
