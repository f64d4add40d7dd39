package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/providers.yaml.
type Definitions struct {
	Providers map[string]Definition `yaml:"providers"`
}

// Definition describes a single tool provider endpoint definition.
type Definition struct {
	Type           string `yaml:"type"`
	BaseURL        string `yaml:"base_url"`
	AuthToken      string `yaml:"auth_token"`
	AuthTokenEnv   string `yaml:"auth_token_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RPCURL         string `yaml:"rpc_url"`
	DocumentsPath  string `yaml:"documents_path"`
	Description    string `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing provider metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Providers: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取提供方配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析提供方配置失败: %w", err)
	}
	if defs.Providers == nil {
		defs.Providers = map[string]Definition{}
	}
	return defs, nil
}
