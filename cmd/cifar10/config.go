package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// options collects every CLI flag value.
type options struct {
	configPath string
	saveDir    string
	dataDir    string

	epochs     int64
	startEpoch int64
	batchSize  int64
	workers    int64

	lr          float64
	momentum    float64
	weightDecay float64

	printFreq  int64
	resume     string
	pretrained string
	prefix     string
	evaluate   bool

	floatBN         bool
	fixGrad         bool
	rangeMethod     int64
	gradRangeMethod int64
	bitwidthData    int64
	bitwidthGrad    int64

	seed int64
}

// fileConfig is the YAML config file mirror of the flags. Numeric fields are
// pointers so "not set" is distinguishable from zero.
type fileConfig struct {
	SaveDir string `yaml:"save_dir"`
	DataDir string `yaml:"data_dir"`

	Epochs    *int64 `yaml:"epochs"`
	BatchSize *int64 `yaml:"batch_size"`
	Workers   *int64 `yaml:"workers"`

	LR          *float64 `yaml:"lr"`
	Momentum    *float64 `yaml:"momentum"`
	WeightDecay *float64 `yaml:"weight_decay"`

	FloatBN         *bool  `yaml:"float_bn"`
	FixGrad         *bool  `yaml:"fix_grad"`
	RangeMethod     *int64 `yaml:"range_method"`
	GradRangeMethod *int64 `yaml:"grad_range_method"`
	BitwidthData    *int64 `yaml:"bitwidth_data"`
	BitwidthGrad    *int64 `yaml:"bitwidth_grad"`
}

// loadConfig reads the config file. An empty path yields a zero config; a
// path that cannot be read or parsed is an error, never a silent fallback to
// the flag defaults.
func loadConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// applyConfig applies config file values to any flag the user did not set
// explicitly on the command line.
func applyConfig(c *cli.Command, cfg fileConfig, opts *options) {
	if cfg.SaveDir != "" && !c.IsSet("save-dir") {
		opts.saveDir = cfg.SaveDir
	}
	if cfg.DataDir != "" && !c.IsSet("data-dir") {
		opts.dataDir = cfg.DataDir
	}
	if cfg.Epochs != nil && !c.IsSet("epoch") {
		opts.epochs = *cfg.Epochs
	}
	if cfg.BatchSize != nil && !c.IsSet("batch-size") {
		opts.batchSize = *cfg.BatchSize
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		opts.workers = *cfg.Workers
	}
	if cfg.LR != nil && !c.IsSet("lr") {
		opts.lr = *cfg.LR
	}
	if cfg.Momentum != nil && !c.IsSet("momentum") {
		opts.momentum = *cfg.Momentum
	}
	if cfg.WeightDecay != nil && !c.IsSet("weight-decay") {
		opts.weightDecay = *cfg.WeightDecay
	}
	if cfg.FloatBN != nil && !c.IsSet("float-bn") {
		opts.floatBN = *cfg.FloatBN
	}
	if cfg.FixGrad != nil && !c.IsSet("fix-grad") {
		opts.fixGrad = *cfg.FixGrad
	}
	if cfg.RangeMethod != nil && !c.IsSet("range-method") {
		opts.rangeMethod = *cfg.RangeMethod
	}
	if cfg.GradRangeMethod != nil && !c.IsSet("grad-range-method") {
		opts.gradRangeMethod = *cfg.GradRangeMethod
	}
	if cfg.BitwidthData != nil && !c.IsSet("bitwidth-data") {
		opts.bitwidthData = *cfg.BitwidthData
	}
	if cfg.BitwidthGrad != nil && !c.IsSet("bitwidth-grad") {
		opts.bitwidthGrad = *cfg.BitwidthGrad
	}
}
