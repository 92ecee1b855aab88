package config

import (
	"reflect"
	"sync"
)

var (
	envPaths     map[string]string
	envPathsOnce sync.Once
)

// envMappings maps environment variable names to config key paths, generated
// once from the env/koanf struct tags on Config.
func envMappings() map[string]string {
	envPathsOnce.Do(func() {
		envPaths = make(map[string]string)
		collectEnvMappings(reflect.TypeOf(Config{}), "", envPaths)
	})
	return envPaths
}

func collectEnvMappings(t reflect.Type, prefix string, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		koanfTag := field.Tag.Get("koanf")
		if koanfTag == "" || koanfTag == "-" {
			continue
		}
		path := koanfTag
		if prefix != "" {
			path = prefix + "." + koanfTag
		}
		if envVar := field.Tag.Get("env"); envVar != "" && envVar != "-" {
			out[envVar] = path
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			collectEnvMappings(field.Type, path, out)
		}
	}
}
