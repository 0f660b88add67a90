package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wnt/farmdash/internal/ledger"
	"gopkg.in/yaml.v3"
)

// farmsFile is the layout of the farm catalogue
type farmsFile struct {
	Farms []ledger.Farm `yaml:"farms"`
}

// LoadFarms reads and validates the farm catalogue at path
func LoadFarms(path string) (ledger.Farms, []ledger.Farm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read farms file: %w", err)
	}
	return ParseFarms(data)
}

// ParseFarms decodes a YAML farm catalogue. The returned slice keeps file order.
func ParseFarms(data []byte) (ledger.Farms, []ledger.Farm, error) {
	var file farmsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse farms file: %w", err)
	}
	if len(file.Farms) == 0 {
		return nil, nil, fmt.Errorf("farms file defines no farms")
	}

	farms, err := ledger.NewFarms(file.Farms)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid farms file: %w", err)
	}
	return farms, file.Farms, nil
}
