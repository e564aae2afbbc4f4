package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`

	// MaxFileMB caps accepted document size.
	MaxFileMB int `yaml:"max_file_mb"`

	// MaxConcurrent bounds simultaneous pipeline runs.
	MaxConcurrent int `yaml:"max_concurrent"`

	Fetch     FetchConfig     `yaml:"fetch"`
	Segment   SegmentConfig   `yaml:"segment"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Extract   ExtractConfig   `yaml:"extract"`
	Insight   InsightConfig   `yaml:"insight"`
	Retention RetentionConfig `yaml:"retention"`
}

// FetchConfig controls URL ingestion.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Attempts  int           `yaml:"attempts"`
	Backoff   time.Duration `yaml:"backoff"`
	UserAgent string        `yaml:"user_agent"`
}

// SegmentConfig controls page segmentation.
type SegmentConfig struct {
	TableThreshold float64 `yaml:"table_threshold"`
}

// ClassifyConfig controls industry classification.
type ClassifyConfig struct {
	// TaxonomyPath points to a YAML taxonomy; empty uses the built-in set.
	TaxonomyPath string `yaml:"taxonomy_path"`
}

// ExtractConfig controls metric extraction.
type ExtractConfig struct {
	// Synonyms extends the built-in vocabulary: canonical label to extra
	// synonyms.
	Synonyms map[string][]string `yaml:"synonyms"`
}

// InsightConfig controls insight generation.
type InsightConfig struct {
	OutlierMultiple  float64 `yaml:"outlier_multiple"`
	NotableChangePct float64 `yaml:"notable_change_pct"`
}

// RetentionConfig controls observability cleanup, in days.
type RetentionConfig struct {
	StageEventsDays int `yaml:"stage_events_days"`
	HTTPLogsDays    int `yaml:"http_logs_days"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8085"
	}
	if c.DBPath == "" {
		c.DBPath = "reportpipe.db"
	}
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = 50
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Attempts <= 0 {
		c.Fetch.Attempts = 3
	}
	if c.Fetch.Backoff <= 0 {
		c.Fetch.Backoff = time.Second
	}
	if c.Segment.TableThreshold <= 0 {
		c.Segment.TableThreshold = 0.6
	}
	if c.Insight.OutlierMultiple <= 0 {
		c.Insight.OutlierMultiple = 2.5
	}
	if c.Insight.NotableChangePct <= 0 {
		c.Insight.NotableChangePct = 25
	}
	if c.Retention.StageEventsDays <= 0 {
		c.Retention.StageEventsDays = 30
	}
	if c.Retention.HTTPLogsDays <= 0 {
		c.Retention.HTTPLogsDays = 7
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.MaxFileMB > 500 {
		return fmt.Errorf("config: max_file_mb %d is unreasonably large", c.MaxFileMB)
	}
	if c.Segment.TableThreshold > 1 {
		return fmt.Errorf("config: segment.table_threshold must be in (0,1], got %v", c.Segment.TableThreshold)
	}
	if c.Classify.TaxonomyPath != "" {
		if _, err := os.Stat(c.Classify.TaxonomyPath); err != nil {
			return fmt.Errorf("config: taxonomy_path: %w", err)
		}
	}
	return nil
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// LoadConfig reads a YAML config file, applies defaults, and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
