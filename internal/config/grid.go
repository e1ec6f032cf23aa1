package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/banshee-data/cvgrid/internal/grid"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// GridConfig describes one collective-variable grid and how it is
// checkpointed. The same schema is accepted as JSON or HCL.
type GridConfig struct {
	Name       *string           `json:"name,omitempty" hcl:"name,optional"`
	Lower      []float64         `json:"lower" hcl:"lower,optional"`
	Upper      []float64         `json:"upper" hcl:"upper,optional"`
	Periodic   []bool            `json:"periodic" hcl:"periodic,optional"`
	PointCount []int             `json:"point_count" hcl:"point_count,optional"`
	Checkpoint *CheckpointConfig `json:"checkpoint,omitempty" hcl:"checkpoint,block"`
}

// CheckpointConfig controls snapshot persistence.
type CheckpointConfig struct {
	DBPath          *string `json:"db_path,omitempty" hcl:"db_path,optional"`
	FlushInterval   *string `json:"flush_interval,omitempty" hcl:"flush_interval,optional"` // duration string like "5m"
	Compression     *string `json:"compression,omitempty" hcl:"compression,optional"`       // "none", "gzip" or "zstd"
	Restore         *bool   `json:"restore,omitempty" hcl:"restore,optional"`
	RestoreRequired *bool   `json:"restore_required,omitempty" hcl:"restore_required,optional"`
	KeepLast        *int    `json:"keep_last,omitempty" hcl:"keep_last,optional"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultGridConfig returns a starter configuration: a periodic
// two-dimensional dihedral grid with 5 degree resolution.
func DefaultGridConfig() *GridConfig {
	return &GridConfig{
		Name:       ptrString("phi-psi"),
		Lower:      []float64{-180, -180},
		Upper:      []float64{180, 180},
		Periodic:   []bool{true, true},
		PointCount: []int{73, 73},
		Checkpoint: &CheckpointConfig{
			DBPath:        ptrString("cvgrid.db"),
			FlushInterval: ptrString("5m"),
			Compression:   ptrString(string(grid.CompressionGzip)),
			Restore:       ptrBool(true),
			KeepLast:      ptrInt(10),
		},
	}
}

// WriteJSON writes the configuration as indented JSON.
func (c *GridConfig) WriteJSON(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// LoadGridConfig loads a GridConfig from a .json or .hcl file.
// Fields omitted from the file fall back to the Get* defaults.
func LoadGridConfig(path string) (*GridConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".hcl" {
		return nil, fmt.Errorf("config file must have .json or .hcl extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *GridConfig
	if ext == ".json" {
		cfg, err = ParseGridConfigJSON(data)
	} else {
		cfg, err = ParseGridConfigHCL(data, cleanPath)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseGridConfigJSON decodes a JSON document without validating it.
func ParseGridConfigJSON(data []byte) (*GridConfig, error) {
	cfg := &GridConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}

// hclVariables are the names an HCL config may reference, so radian
// bounds can be written as -pi and pi.
var hclVariables = map[string]cty.Value{
	"pi": cty.NumberFloatVal(math.Pi),
}

// ParseGridConfigHCL decodes an HCL document without validating it.
// filename is used only in diagnostics.
func ParseGridConfigHCL(data []byte, filename string) (*GridConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	cfg := &GridConfig{}
	ctx := &hcl.EvalContext{Variables: hclVariables}
	if diags := gohcl.DecodeBody(file.Body, ctx, cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid, including that
// the four per-dimension lists describe a constructible grid.
func (c *GridConfig) Validate() error {
	if c.Name != nil && *c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if _, err := c.Geometry(); err != nil {
		return err
	}

	cp := c.Checkpoint
	if cp == nil {
		return nil
	}
	if cp.FlushInterval != nil && *cp.FlushInterval != "" {
		d, err := time.ParseDuration(*cp.FlushInterval)
		if err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *cp.FlushInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("flush_interval must be non-negative, got %s", d)
		}
	}
	if cp.Compression != nil {
		if _, err := grid.ParseCompression(*cp.Compression); err != nil {
			return err
		}
	}
	if cp.KeepLast != nil && *cp.KeepLast < 0 {
		return fmt.Errorf("keep_last must be non-negative, got %d", *cp.KeepLast)
	}
	if cp.RestoreRequired != nil && *cp.RestoreRequired && cp.Restore != nil && !*cp.Restore {
		return fmt.Errorf("restore_required needs restore enabled")
	}
	return nil
}

// Geometry builds the grid geometry described by the configuration.
func (c *GridConfig) Geometry() (*grid.Geometry, error) {
	return grid.NewGeometry(c.Lower, c.Upper, c.Periodic, c.PointCount)
}

// GetName returns the grid name or the default.
func (c *GridConfig) GetName() string {
	if c.Name == nil {
		return "default"
	}
	return *c.Name
}

func (c *GridConfig) checkpoint() *CheckpointConfig {
	if c.Checkpoint == nil {
		return &CheckpointConfig{}
	}
	return c.Checkpoint
}

// GetDBPath returns the checkpoint database path or the default.
func (c *GridConfig) GetDBPath() string {
	if p := c.checkpoint().DBPath; p != nil && *p != "" {
		return *p
	}
	return "cvgrid.db"
}

// GetFlushInterval parses and returns the flush interval. Zero disables
// periodic flushing.
func (c *GridConfig) GetFlushInterval() time.Duration {
	fi := c.checkpoint().FlushInterval
	if fi == nil || *fi == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*fi)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// GetCompression returns the blob compression or the default (gzip).
func (c *GridConfig) GetCompression() grid.Compression {
	comp := c.checkpoint().Compression
	if comp == nil {
		return grid.CompressionGzip
	}
	parsed, err := grid.ParseCompression(*comp)
	if err != nil {
		return grid.CompressionGzip
	}
	return parsed
}

// GetRestore returns whether to resume from the latest checkpoint.
func (c *GridConfig) GetRestore() bool {
	if r := c.checkpoint().Restore; r != nil {
		return *r
	}
	return true
}

// GetRestoreRequired returns whether a missing or unreadable checkpoint is
// fatal at startup.
func (c *GridConfig) GetRestoreRequired() bool {
	if r := c.checkpoint().RestoreRequired; r != nil {
		return *r
	}
	return false
}

// GetKeepLast returns how many checkpoints to retain; 0 keeps all.
func (c *GridConfig) GetKeepLast() int {
	if k := c.checkpoint().KeepLast; k != nil {
		return *k
	}
	return 0
}
