package am

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	burnt "github.com/BurntSushi/toml"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/jobpulse/errors"
)

// UnknownKeys returns the dotted keys in a TOML file that jobpulse does not read.
// Viper silently ignores them, so a typo like pulse.ticker_intervall_seconds
// would otherwise fall back to the default without notice.
func UnknownKeys(configPath string) ([]string, error) {
	var raw map[string]interface{}
	md, err := burnt.DecodeFile(configPath, &raw)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}

	v := viper.New()
	SetDefaults(v)
	known := make(map[string]bool)
	for _, key := range v.AllKeys() {
		known[key] = true
		// parent tables are valid keys too
		parts := strings.Split(key, ".")
		for i := 1; i < len(parts); i++ {
			known[strings.Join(parts[:i], ".")] = true
		}
	}

	var unknown []string
	for _, key := range md.Keys() {
		dotted := strings.ToLower(key.String())
		if !known[dotted] {
			unknown = append(unknown, key.String())
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// Render serializes settings in the requested format: toml, json or yaml.
func Render(settings map[string]interface{}, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "toml":
		return toml.Marshal(settings)
	case "json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(settings); err != nil {
			return nil, errors.Wrap(err, "failed to encode json")
		}
		return buf.Bytes(), nil
	case "yaml", "yml":
		return yaml.Marshal(settings)
	default:
		return nil, errors.NewInvalidRequestError("unknown format %q (want toml, json or yaml)", format)
	}
}

// RedactedSettings returns the effective settings with secrets masked.
func RedactedSettings(v *viper.Viper) map[string]interface{} {
	settings := v.AllSettings()
	for _, key := range []string{"generation.api_key", "email.api_key", "database.dsn", "notify.redis_url"} {
		if v.GetString(key) == "" {
			continue
		}
		parts := strings.Split(key, ".")
		if section, ok := settings[parts[0]].(map[string]interface{}); ok {
			section[parts[1]] = "********"
		}
	}
	return settings
}
