package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SQLDUMP_"

// FileLookup reads a config file and exposes its keys as environment-style
// names, so "datasource.dsn" answers SQLDUMP_DATASOURCE_DSN.
func FileLookup(path string) (LookupFunc, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	values := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		name := envPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		values[name] = v.GetString(key)
	}
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}, nil
}

// Layered returns a lookup that consults each source in order and reports the
// first hit.
func Layered(sources ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, source := range sources {
			if source == nil {
				continue
			}
			if value, ok := source(key); ok {
				return value, true
			}
		}
		return "", false
	}
}
