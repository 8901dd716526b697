package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProductSpec is one entry in the product catalog file. The catalog seeds
// the products table at startup so operators can version plan defaults
// alongside deployment config.
type ProductSpec struct {
	Name              string  `yaml:"name"`
	MaxBudgetPerKey   float64 `yaml:"max_budget_per_key"`
	RPMPerKey         float64 `yaml:"rpm_per_key"`
	VectorDBCount     float64 `yaml:"vector_db_count"`
	VectorDBStorageGB float64 `yaml:"vector_db_storage_gb"`
	UserCount         float64 `yaml:"user_count"`
	KeyCount          float64 `yaml:"key_count"`
}

// LoadProductCatalog reads the yaml product catalog. An empty path means no
// catalog is configured and returns nil without error.
func LoadProductCatalog(path string) ([]ProductSpec, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read product catalog: %w", err)
	}
	var catalog struct {
		Products []ProductSpec `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse product catalog: %w", err)
	}
	for _, p := range catalog.Products {
		if p.Name == "" {
			return nil, fmt.Errorf("product catalog: entry missing name")
		}
	}
	return catalog.Products, nil
}
