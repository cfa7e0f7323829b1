// Package mapping loads field mapping declarations from YAML.
package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads and validates the mapping file at path
func Load(path string) (*integration.MappingSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a mapping declaration. Unknown keys are rejected so a typo in
// a field spec fails loudly instead of silently dropping a transform.
func Parse(data []byte) (*integration.MappingSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var set integration.MappingSet
	if err := dec.Decode(&set); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("mapping declaration is empty")
		}
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if set.Source == "" {
		set.Source = "erp"
	}
	if err := validate.Struct(&set); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	if err := set.CheckTargets(); err != nil {
		return nil, err
	}
	return &set, nil
}
