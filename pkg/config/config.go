// Package config loads pipeline configuration from a YAML file, a .env file
// and CUSTSEG_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/custsegml/pkg/anomaly"
	"github.com/hed1ad/custsegml/pkg/classify"
	csvio "github.com/hed1ad/custsegml/pkg/io/csv"
	mysqlio "github.com/hed1ad/custsegml/pkg/io/mysql"
	"github.com/hed1ad/custsegml/pkg/segment"
	"github.com/hed1ad/custsegml/pkg/train"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Input sources.
const (
	SourceCSV   = "csv"
	SourceMySQL = "mysql"
)

// Config holds all pipeline configuration.
type Config struct {
	// Seed drives every random choice in a run.
	Seed int64 `yaml:"seed"`

	Log     LogConfig      `yaml:"log"`
	Input   InputConfig    `yaml:"input"`
	Output  OutputConfig   `yaml:"output"`
	Segment segment.Config `yaml:"segment"`
	Train   train.Config   `yaml:"train"`
	Anomaly anomaly.Config `yaml:"anomaly"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// LogConfig selects the logger encoding and level.
type LogConfig struct {
	Mode  string `yaml:"mode"` // "dev" or "prod"
	Level string `yaml:"level"`
}

// InputConfig selects where raw tables come from.
type InputConfig struct {
	Source string         `yaml:"source"`
	Dir    string         `yaml:"dir"`
	Files  csvio.Files    `yaml:"files"`
	DSN    string         `yaml:"dsn"`
	Tables mysqlio.Tables `yaml:"tables"`
}

// OutputConfig selects where export tables, the classifier artifact and the
// fitted anomaly model are written. An empty value disables that output.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	Artifact     string `yaml:"artifact"`
	AnomalyModel string `yaml:"anomaly_model"`
}

// MetricsConfig configures the Prometheus pushgateway. An empty PushURL
// disables pushing.
type MetricsConfig struct {
	PushURL string `yaml:"push_url"`
	Job     string `yaml:"job"`
}

// Defaults
const (
	DefaultSeed     = 42
	DefaultLogMode  = "dev"
	DefaultLogLevel = "info"
	DefaultInputDir = "data"
	DefaultOutput   = "output"
	DefaultArtifact = "models/segment_classifier.gob"
	DefaultAnomaly  = "models/anomaly_model.gob"
	DefaultJob      = "custseg"
)

// Default returns a configuration that validates as is.
func Default() *Config {
	return &Config{
		Seed: DefaultSeed,
		Log:  LogConfig{Mode: DefaultLogMode, Level: DefaultLogLevel},
		Input: InputConfig{
			Source: SourceCSV,
			Dir:    DefaultInputDir,
			Files:  csvio.DefaultFiles(),
			Tables: mysqlio.DefaultTables(),
		},
		Output:  OutputConfig{Dir: DefaultOutput, Artifact: DefaultArtifact, AnomalyModel: DefaultAnomaly},
		Segment: segment.DefaultConfig(),
		Train:   train.DefaultConfig(),
		Anomaly: anomaly.DefaultConfig(),
		Metrics: MetricsConfig{Job: DefaultJob},
	}
}

// Load builds the configuration. path, when non-empty, names a YAML file
// layered over the defaults. envFiles are loaded with godotenv; with none
// given, a .env in the working directory is loaded if present. Variables
// already set in the environment are never overridden by env files.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Seed = getEnvInt64("CUSTSEG_SEED", c.Seed)
	c.Log.Mode = getEnv("CUSTSEG_LOG_MODE", c.Log.Mode)
	c.Log.Level = getEnv("CUSTSEG_LOG_LEVEL", c.Log.Level)
	c.Input.Source = getEnv("CUSTSEG_INPUT_SOURCE", c.Input.Source)
	c.Input.Dir = getEnv("CUSTSEG_INPUT_DIR", c.Input.Dir)
	c.Input.DSN = getEnv("CUSTSEG_MYSQL_DSN", getEnv("DATABASE_URL", c.Input.DSN))
	c.Output.Dir = getEnv("CUSTSEG_OUTPUT_DIR", c.Output.Dir)
	c.Output.Artifact = getEnv("CUSTSEG_ARTIFACT_PATH", c.Output.Artifact)
	c.Output.AnomalyModel = getEnv("CUSTSEG_ANOMALY_MODEL_PATH", c.Output.AnomalyModel)
	c.Segment.K = int(getEnvInt64("CUSTSEG_SEGMENTS", int64(c.Segment.K)))
	c.Metrics.PushURL = getEnv("CUSTSEG_PUSHGATEWAY_URL", c.Metrics.PushURL)
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	switch c.Input.Source {
	case SourceCSV:
		if c.Input.Dir == "" {
			return fmt.Errorf("%w: input.dir is required for csv input", ErrInvalid)
		}
	case SourceMySQL:
		if c.Input.DSN == "" {
			return fmt.Errorf("%w: input.dsn is required for mysql input", ErrInvalid)
		}
		if err := c.Input.Tables.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	default:
		return fmt.Errorf("%w: unknown input source %q", ErrInvalid, c.Input.Source)
	}

	s := c.Segment
	if s.K < 2 {
		return fmt.Errorf("%w: segment.k must be at least 2", ErrInvalid)
	}
	if !s.SkipSweep && (s.SweepMin < 2 || s.SweepMax < s.SweepMin) {
		return fmt.Errorf("%w: segment sweep range [%d, %d]", ErrInvalid, s.SweepMin, s.SweepMax)
	}
	if s.Restarts < 1 || s.MaxIter < 1 {
		return fmt.Errorf("%w: segment restarts and max_iter must be positive", ErrInvalid)
	}

	t := c.Train
	if t.TestFraction <= 0 || t.TestFraction >= 1 {
		return fmt.Errorf("%w: train.test_fraction must be in (0, 1)", ErrInvalid)
	}
	if t.Folds < 2 {
		return fmt.Errorf("%w: train.folds must be at least 2", ErrInvalid)
	}
	if len(t.Candidates) == 0 {
		return fmt.Errorf("%w: train.candidates is empty", ErrInvalid)
	}
	for _, k := range t.Candidates {
		if !slices.Contains(classify.Kinds, k) {
			return fmt.Errorf("%w: %w: %q", ErrInvalid, classify.ErrUnknownKind, k)
		}
	}

	a := c.Anomaly
	for _, v := range []float64{a.CustomerContamination, a.TransactionContamination} {
		if v <= 0 || v > 0.5 {
			return fmt.Errorf("%w: contamination %v must be in (0, 0.5]", ErrInvalid, v)
		}
	}
	if a.Trees < 1 {
		return fmt.Errorf("%w: anomaly.trees must be positive", ErrInvalid)
	}
	if a.TopN < 1 {
		return fmt.Errorf("%w: anomaly.top_n must be positive", ErrInvalid)
	}
	return nil
}

// SegmentConfig returns the segmentation settings seeded from Seed.
func (c *Config) SegmentConfig() segment.Config {
	s := c.Segment
	s.Seed = c.Seed
	return s
}

// TrainConfig returns the trainer settings seeded from Seed.
func (c *Config) TrainConfig() train.Config {
	t := c.Train
	t.Candidates = slices.Clone(t.Candidates)
	t.Seed = c.Seed
	return t
}

// AnomalyConfig returns the detector settings seeded from Seed.
func (c *Config) AnomalyConfig() anomaly.Config {
	a := c.Anomaly
	a.Seed = c.Seed
	return a
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
