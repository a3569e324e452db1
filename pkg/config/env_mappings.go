package config

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// EnvMapping links an environment variable to a configuration path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
	Sensitive  bool
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings derives env mappings from the koanf and env struct tags.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = extractMappings(reflect.TypeOf(Config{}), "")
		sort.Slice(cachedMappings, func(i, j int) bool {
			return cachedMappings[i].ConfigPath < cachedMappings[j].ConfigPath
		})
	})
	return cachedMappings
}

func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("koanf")
		if key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			mappings = append(mappings, extractMappings(field.Type, path)...)
			continue
		}
		envVar := field.Tag.Get("env")
		if envVar == "" || envVar == "-" {
			continue
		}
		mappings = append(mappings, EnvMapping{
			EnvVar:     envVar,
			ConfigPath: path,
			Sensitive:  isSensitiveField(field),
		})
	}
	return mappings
}

func isSensitiveField(field reflect.StructField) bool {
	if field.Type == reflect.TypeOf(SensitiveString("")) {
		return true
	}
	return field.Tag.Get("sensitive") == "true"
}

// GenerateEnvToConfigMap generates a map from env var to config path
func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

// GetEnvVarForConfigPath returns the environment variable for a given config path
func GetEnvVarForConfigPath(configPath string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == configPath {
			return m.EnvVar
		}
	}
	return ""
}

// IsSensitiveConfigPath reports whether a dotted path holds a secret.
func IsSensitiveConfigPath(configPath string) bool {
	for _, m := range GenerateEnvMappings() {
		if strings.EqualFold(m.ConfigPath, configPath) {
			return m.Sensitive
		}
	}
	return false
}
