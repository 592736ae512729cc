package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for the portal sources and the strategy
// order the orchestrator tries them in.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching behaviour for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // Default: 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Default: 1.0
	UserAgent      string  `yaml:"user_agent,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
}

// TableConfig drives listing-table extraction. Header keywords decide which
// HTML tables are project listings at all; everything else is best-effort.
type TableConfig struct {
	Selector       string   `yaml:"selector,omitempty"`     // Default: "table"
	NextSelector   string   `yaml:"next,omitempty"`         // CSS selector for the next-page control
	HeaderKeywords []string `yaml:"header_keywords,omitempty"`
}

// SourceConfig defines the portal and how each strategy approaches it.
type SourceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Active  bool   `yaml:"active"`

	// Strategy order the orchestrator walks; first viable result wins.
	StrategyOrder []string `yaml:"strategy_order"`

	// Well-known JSON endpoint path patterns for the api_probe strategy.
	// %s is substituted with the scoped district when present.
	APIEndpoints []string `yaml:"api_endpoints,omitempty"`

	// Listing page template for paginated_table; %d is the page number.
	ListPath string `yaml:"list_path,omitempty"`
	// Per-district listing template for district_partitioned; %s is the
	// URL-escaped district name.
	DistrictPath string   `yaml:"district_path,omitempty"`
	Districts    []string `yaml:"districts,omitempty"`

	MaxPages        int `yaml:"max_pages,omitempty"`         // Default: 100
	DistrictWorkers int `yaml:"district_workers,omitempty"`  // Default: 3
	MinViable       int `yaml:"min_viable_records,omitempty"` // Default: 1
	RetryCooldownMS int `yaml:"retry_cooldown_ms,omitempty"` // Default: 30000

	// Synthetic fallback sizing: target record count per city.
	CityWeights map[string]int `yaml:"city_weights,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
	Table TableConfig `yaml:"table,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml. The path parameter is a
// filesystem fallback for local development.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}

	return &reg, nil
}

// ActiveSource returns the first active source in the registry.
func (r *Registry) ActiveSource() (*SourceConfig, error) {
	for i := range r.Sources {
		if r.Sources[i].Active {
			return &r.Sources[i], nil
		}
	}
	return nil, fmt.Errorf("no active source in registry")
}

// applyDefaults fills the zero values a strategy should not have to guess.
func (c *SourceConfig) applyDefaults() {
	if c.MaxPages == 0 {
		c.MaxPages = 100
	}
	if c.DistrictWorkers == 0 {
		c.DistrictWorkers = 3
	}
	if c.MinViable == 0 {
		c.MinViable = 1
	}
	if c.RetryCooldownMS == 0 {
		c.RetryCooldownMS = 30000
	}
	if c.Table.Selector == "" {
		c.Table.Selector = "table"
	}
	if len(c.Table.HeaderKeywords) == 0 {
		c.Table.HeaderKeywords = []string{"project", "rera", "promoter", "registration"}
	}
	if len(c.StrategyOrder) == 0 {
		c.StrategyOrder = []string{"api_probe", "paginated_table", "district_partitioned"}
	}
}
