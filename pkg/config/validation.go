package config

import (
	"fmt"
	"reflect"
	"strings"
)

// String returns the full configuration as an indented listing.
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), "")
}

// Redacted returns a copy of the configuration with connection secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Storage.URL = RedactURL(c.Storage.URL)
	if out.Storage.SecretAccessKey != "" {
		out.Storage.SecretAccessKey = "***"
	}
	return &out
}

func formatStruct(v reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		name := strings.ToLower(field.Name)
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}

		if value.Kind() == reflect.Struct {
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, name))
			sb.WriteString(formatStruct(value, prefix+"  "))
			continue
		}
		sb.WriteString(fmt.Sprintf("%s%s: %v\n", prefix, name, value.Interface()))
	}
	return sb.String()
}
