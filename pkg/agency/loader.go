package agency

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SupportedVersions is the registry document version range this build reads.
const SupportedVersions = "^1"

const schemaURL = "https://regulateai.local/schemas/agency-registry.schema.json"

//go:embed registry.schema.json
var registrySchema string

//go:embed defaults.yaml
var defaultRegistry []byte

// Document is the on-disk registry format.
type Document struct {
	Version  string                  `yaml:"version"`
	Agencies map[string]AgencyConfig `yaml:"agencies"`
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(registrySchema)); err != nil {
		panic(fmt.Sprintf("agency registry schema load failed: %v", err))
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("agency registry schema compile failed: %v", err))
	}
	return s
}

// Load reads a registry document from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load agency registry %q: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load agency registry %q: %w", path, err)
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return Parse(defaultRegistry)
}

// Parse validates and decodes a registry document. API keys named by
// api_key_env are resolved from the environment here, once.
func Parse(data []byte) (*Registry, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}

	configs := make([]AgencyConfig, 0, len(doc.Agencies))
	for id, c := range doc.Agencies {
		c.ID = id
		if c.APIKey == "" && c.APIKeyEnv != "" {
			c.APIKey = strings.TrimSpace(os.Getenv(c.APIKeyEnv))
		}
		configs = append(configs, c)
	}
	return NewRegistry(configs...)
}

// validateDocument round-trips the YAML tree through JSON so the schema
// validator sees plain JSON types.
func validateDocument(raw any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("registry is not representable as JSON: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("registry is not representable as JSON: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("registry schema validation failed: %w", err)
	}
	return nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("registry version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("registry version %s not supported (want %s)", v, SupportedVersions)
	}
	return nil
}
