package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "pagedb"

// ConfigVariable names the configuration file in flags and the environment.
const ConfigVariable = "config"

// Loader layers the configuration file, the environment and flags.
type Loader struct {
	// EnvFiles are loaded into the process environment before anything
	// is read. Variables already set are kept, so earlier files win.
	EnvFiles []string

	v *viper.Viper
}

// NewLoader returns a Loader reading .env.local and .env.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &Loader{
		EnvFiles: []string{".env.local", ".env"},
		v:        v,
	}
}

// AddFlags defines one flag per variable, plus --config.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.StringP(ConfigVariable, "c", "", "HCL configuration file")
	for _, v := range variables {
		name := flagName(v.name)
		switch v.name {
		case "read_only", "auto_rebuild":
			fs.Bool(name, false, v.usage)
		case "page_size":
			fs.Int(name, d.PageSize, v.usage)
		case "cache_size":
			fs.Int(name, d.CacheSize, v.usage)
		case "checkpoint_size":
			fs.Int(name, d.CheckpointSize, v.usage)
		case "timeout":
			fs.Duration(name, d.Timeout, v.usage)
		case "log_level":
			fs.String(name, d.Logging.Level, v.usage)
		case "log_format":
			fs.String(name, d.Logging.Format, v.usage)
		case "log_output":
			fs.String(name, d.Logging.Output, v.usage)
		default:
			fs.String(name, "", v.usage)
		}
	}
}

// BindFlags binds the flags AddFlags defined. Only flags given on the
// command line override the other layers.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	names := []string{ConfigVariable}
	for _, v := range variables {
		names = append(names, v.name)
	}
	for _, name := range names {
		f := fs.Lookup(flagName(name))
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(name, f); err != nil {
			return err
		}
	}
	return nil
}

// Load builds the configuration. An empty path falls back to the config
// flag or PAGEDB_CONFIG; with neither, no file is read.
func (l *Loader) Load(path string) (*Config, error) {
	for _, f := range l.EnvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}

	c := DefaultConfig()
	if path == "" {
		path = l.v.GetString(ConfigVariable)
	}
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	for _, v := range variables {
		if !l.v.IsSet(v.name) {
			continue
		}
		if err := v.set(c, l.v.Get(v.name)); err != nil {
			return nil, fmt.Errorf("%s: %w", v.name, err)
		}
	}
	if errs := ValidateConfig(c); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func flagName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}
