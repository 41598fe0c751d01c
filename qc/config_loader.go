package qc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatasetConfig describes one upstream dataset whose batches this service
// scores. Batches arrive on the MQTT topic, or are pulled from ApiURL.
type DatasetConfig struct {
	ID     string  `yaml:"id" json:"id"`
	Topic  string  `yaml:"topic,omitempty" json:"topic,omitempty"`
	ApiURL *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"`
	Color  string  `yaml:"color,omitempty" json:"color,omitempty"` // hex color used in renders
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config is the unified service configuration.
type Config struct {
	Reference string          `yaml:"reference" json:"reference"` // path or URL of the reference model JSON
	Params    Params          `yaml:"params" json:"params"`
	MQTT      MQTTConfig      `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Datasets  []DatasetConfig `yaml:"datasets,omitempty" json:"datasets,omitempty"`
	StorePath string          `yaml:"storePath,omitempty" json:"storePath,omitempty"` // SQLite file; empty disables persistence
}

// LoadConfig loads the unified configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if config.Reference == "" {
		return nil, fmt.Errorf("reference is required")
	}
	if config.Params.KMAD == 0 {
		config.Params.KMAD = DefaultKMAD
	}
	if config.Params.KMAD < 0 {
		return nil, fmt.Errorf("params.kMad must be non-negative")
	}
	if config.Params.GroupByEnabled && config.Params.GroupKey == "" {
		return nil, fmt.Errorf("params.groupKey is required when params.groupByEnabled is true")
	}

	for i, dc := range config.Datasets {
		if dc.ID == "" {
			return nil, fmt.Errorf("dataset[%d].id is required", i)
		}
		if dc.Topic == "" && dc.ApiURL == nil {
			return nil, fmt.Errorf("dataset[%d] (%s): topic or apiUrl is required", i, dc.ID)
		}
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
