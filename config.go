package vectier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/vectier/internal/annssd"
	"github.com/cwbudde/vectier/internal/cache"
	"github.com/cwbudde/vectier/internal/storage"
	"github.com/cwbudde/vectier/internal/vecmath"
)

// Mode selects the backend composition.
type Mode string

const (
	// ModeDRAM keeps every payload resident in process memory.
	ModeDRAM Mode = "dram"
	// ModeTiered fronts a backing store with a DRAM cache and an optional
	// SSD timing model.
	ModeTiered Mode = "tiered"
	// ModeANNSSD runs queries on the in-storage traversal simulator.
	ModeANNSSD Mode = "ann_ssd"
)

// SSDModelConfig selects the analytic device model parameters.
type SSDModelConfig struct {
	BaseLatencyUS float64 `yaml:"base_latency_us"`
	BandwidthGBps float64 `yaml:"bandwidth_gbps"`
	Channels      int     `yaml:"channels"`
	QD            int     `yaml:"qd"`
}

// Config is the engine configuration. Zero values take documented defaults.
type Config struct {
	Mode Mode `yaml:"mode"`
	Dim  int  `yaml:"dim"`

	// Graph parameters.
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Metric         string `yaml:"metric"` // l2, ip, cosine

	// Tier parameters. The backing store behind the cache is a flat file
	// when VectorFile is set, a Redis server when RedisAddr is set, and an
	// in-process store otherwise.
	CacheCapacity int             `yaml:"cache_capacity"`
	CachePolicy   string          `yaml:"cache_policy"` // lru, lfu
	VectorFile    string          `yaml:"vector_file"`
	RedisAddr     string          `yaml:"redis_addr"`
	SSD           *SSDModelConfig `yaml:"ssd"`

	// ANN-in-SSD parameters.
	AnnSSDMode      string `yaml:"ann_ssd_mode"` // cheated, faithful
	AnnHWLevel      string `yaml:"ann_hw_level"` // L0..L3
	VectorsPerBlock int    `yaml:"vectors_per_block"`
	PortalDegree    int    `yaml:"portal_degree"`
	MaxSteps        int    `yaml:"max_steps"` // 0 = visit all blocks
	PlacementMode   string `yaml:"placement_mode"`
	CodeType        string `yaml:"code_type"`

	Seed uint64 `yaml:"seed"`
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDRAM
	}
	if c.Metric == "" {
		c.Metric = "l2"
	}
	if c.CachePolicy == "" {
		c.CachePolicy = string(cache.LRU)
	}
	if c.AnnSSDMode == "" {
		c.AnnSSDMode = string(annssd.ModeCheated)
	}
	if c.AnnHWLevel == "" {
		c.AnnHWLevel = "L0"
	}
	if c.PlacementMode == "" {
		c.PlacementMode = string(annssd.PlacementSequential)
	}
	if c.CodeType == "" {
		c.CodeType = string(annssd.CodeNone)
	}
	if c.VectorsPerBlock <= 0 {
		c.VectorsPerBlock = 64
	}
	if c.PortalDegree <= 0 {
		c.PortalDegree = 4
	}
}

func (c *Config) validate() error {
	if c.Dim <= 0 {
		return &storage.InvalidParameterError{Param: "dim", Reason: "must be positive"}
	}
	if c.Mode != ModeDRAM && c.CacheCapacity < 1 {
		return &storage.InvalidParameterError{Param: "cache_capacity", Reason: "must be at least 1 in tiered and ann_ssd modes"}
	}
	if c.VectorFile != "" && c.RedisAddr != "" {
		return &storage.InvalidParameterError{Param: "redis_addr", Reason: "vector_file and redis_addr select competing backing stores"}
	}
	if _, err := parseMetric(c.Metric); err != nil {
		return err
	}
	if c.Mode != ModeDRAM {
		switch cache.Kind(c.CachePolicy) {
		case cache.LRU, cache.LFU:
		default:
			return &storage.InvalidParameterError{Param: "cache_policy", Reason: fmt.Sprintf("unknown policy %q", c.CachePolicy)}
		}
	}
	if c.Mode == ModeANNSSD {
		if _, err := annssd.ParseHWLevel(c.AnnHWLevel); err != nil {
			return &storage.InvalidParameterError{Param: "ann_hw_level", Reason: err.Error()}
		}
		switch annssd.Mode(c.AnnSSDMode) {
		case annssd.ModeCheated, annssd.ModeFaithful:
		default:
			return &storage.InvalidParameterError{Param: "ann_ssd_mode", Reason: fmt.Sprintf("unknown mode %q", c.AnnSSDMode)}
		}
		switch annssd.Placement(c.PlacementMode) {
		case annssd.PlacementSequential, annssd.PlacementLocalityAware:
		default:
			return &storage.InvalidParameterError{Param: "placement_mode", Reason: fmt.Sprintf("unknown placement %q", c.PlacementMode)}
		}
		switch annssd.CodeType(c.CodeType) {
		case annssd.CodeNone, annssd.CodeMicroIndex:
		default:
			return &storage.InvalidParameterError{Param: "code_type", Reason: fmt.Sprintf("unknown code type %q", c.CodeType)}
		}
	}
	return nil
}

// newBacking builds the store behind the tier: a flat file when VectorFile
// is set, a Redis server when RedisAddr is set, an in-process store
// otherwise.
func (c *Config) newBacking() (storage.Backend, error) {
	switch {
	case c.VectorFile != "":
		return storage.NewFileBackend(c.VectorFile, c.Dim)
	case c.RedisAddr != "":
		return storage.NewRedisBackendAddr(c.RedisAddr, c.Dim), nil
	default:
		return storage.NewMemoryBackend(), nil
	}
}

func parseMetric(s string) (vecmath.Metric, error) {
	switch s {
	case "l2", "L2":
		return vecmath.MetricL2, nil
	case "ip", "IP", "inner_product":
		return vecmath.MetricInnerProduct, nil
	case "cosine":
		return vecmath.MetricCosine, nil
	default:
		return 0, &storage.InvalidParameterError{Param: "metric", Reason: fmt.Sprintf("unknown metric %q", s)}
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
