package config

import (
	"fmt"
	"strings"
)

type Config struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	DemoElements int
	DemoSeed     int64

	Int8Scale     float32
	Int8ZeroPoint int
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	if c.DemoElements <= 0 {
		return fmt.Errorf("invalid demo_elements: %d (must be positive)", c.DemoElements)
	}
	if c.DemoElements%32 != 0 {
		return fmt.Errorf("invalid demo_elements: %d (must be a multiple of 32)", c.DemoElements)
	}
	if !(c.Int8Scale > 0) {
		return fmt.Errorf("invalid int8_scale: %f (must be positive)", c.Int8Scale)
	}
	if c.Int8ZeroPoint < -128 || c.Int8ZeroPoint > 127 {
		return fmt.Errorf("invalid int8_zero_point: %d (must be in [-128, 127])", c.Int8ZeroPoint)
	}
	return nil
}

func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

func (c *Config) Blocks() int {
	return c.DemoElements / 32
}

func Default() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    "console",
		MetricsAddr:  ":9090",
		DemoElements: 256,
		DemoSeed:     1,
		Int8Scale:    1,
	}
}
