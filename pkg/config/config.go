// Package config defines the pack configuration and loads it from defaults,
// a config file, SOURCEPACK_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"sourcepack/pkg/filter"
	"sourcepack/pkg/output"
)

const (
	// AppName is the application name.
	AppName = "sourcepack"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "sourcepack"
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "SOURCEPACK"
)

// Keys of the configuration surface.
const (
	KeyFormat              = "format"
	KeyMode                = "mode"
	KeyCompress            = "compress"
	KeyStripComments       = "strip_comments"
	KeySkipVCS             = "skip.vcs"
	KeySkipBuild           = "skip.build"
	KeySkipDependencyCache = "skip.dependency_cache"
	KeyUseGitignore        = "use_gitignore"
	KeyIgnoreFile          = "ignore_file"
	KeyIgnoreFiles         = "ignore_files"
	KeyIgnoreExtensions    = "ignore_extensions"
	KeyMarkOmitted         = "mark_omitted"
	KeyDeleteOnCancel      = "delete_on_cancel"
)

// Mode selects what a run writes.
type Mode string

const (
	// ModeFull writes the outline and the file bodies.
	ModeFull Mode = "full"
	// ModeTreeOnly writes the outline only.
	ModeTreeOnly Mode = "tree"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Skip holds the optional directory-skip toggles.
type Skip struct {
	VCS             bool `mapstructure:"vcs" toml:"vcs" json:"vcs" comment:"Skip version-control metadata (.git)"`
	Build           bool `mapstructure:"build" toml:"build" json:"build" comment:"Skip build output (build, target)"`
	DependencyCache bool `mapstructure:"dependency_cache" toml:"dependency_cache" json:"dependency_cache" comment:"Skip dependency manager caches (.gradle)"`
}

// Config is the configuration of one pack run. It is read-only once a run
// starts.
type Config struct {
	Format           string   `mapstructure:"format" toml:"format" json:"format" comment:"Document format: markdown, xml or text"`
	Mode             Mode     `mapstructure:"mode" toml:"mode" json:"mode" comment:"full writes outline and bodies, tree writes the outline only"`
	Compress         bool     `mapstructure:"compress" toml:"compress" json:"compress" comment:"Collapse every body to a single line"`
	StripComments    bool     `mapstructure:"strip_comments" toml:"strip_comments" json:"strip_comments" comment:"Remove source comments before writing bodies"`
	Skip             Skip     `mapstructure:"skip" toml:"skip" json:"skip"`
	UseGitignore     bool     `mapstructure:"use_gitignore" toml:"use_gitignore" json:"use_gitignore" comment:"Apply the root .gitignore"`
	IgnoreFile       string   `mapstructure:"ignore_file" toml:"ignore_file" json:"ignore_file" comment:"Extra gitignore-style pattern file"`
	IgnoreFiles      []string `mapstructure:"ignore_files" toml:"ignore_files" json:"ignore_files" comment:"File names left out entirely"`
	IgnoreExtensions []string `mapstructure:"ignore_extensions" toml:"ignore_extensions" json:"ignore_extensions" comment:"Extensions left out entirely"`
	MarkOmitted      bool     `mapstructure:"mark_omitted" toml:"mark_omitted" json:"mark_omitted" comment:"Write a placeholder for binary and oversized files"`
	DeleteOnCancel   bool     `mapstructure:"delete_on_cancel" toml:"delete_on_cancel" json:"delete_on_cancel" comment:"Remove a partially written document when a run is canceled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Format:           output.Markdown.String(),
		Mode:             ModeFull,
		Skip:             Skip{VCS: true, Build: true, DependencyCache: true},
		UseGitignore:     true,
		IgnoreFiles:      filter.DefaultIgnoreFiles(),
		IgnoreExtensions: []string{},
	}
}

// OutputFormat parses Format.
func (c Config) OutputFormat() (output.Format, error) {
	return output.ParseFormat(c.Format)
}

// TreeOnly reports whether bodies are left out.
func (c Config) TreeOnly() bool { return c.Mode == ModeTreeOnly }

// Validate checks enumerated values.
func (c Config) Validate() error {
	if _, err := c.OutputFormat(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyFormat, err)
	}
	switch c.Mode {
	case ModeFull, ModeTreeOnly:
	default:
		return fmt.Errorf("%w: %s: unknown mode %q (want full or tree)", ErrInvalidConfig, KeyMode, c.Mode)
	}
	for _, ext := range c.IgnoreExtensions {
		if strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("%w: %s: %q is not an extension", ErrInvalidConfig, KeyIgnoreExtensions, ext)
		}
	}
	return nil
}

// FilterOptions maps the configuration onto the filter engine switches.
func (c Config) FilterOptions() filter.Options {
	return filter.Options{
		SkipVCS:             c.Skip.VCS,
		SkipBuild:           c.Skip.Build,
		SkipDependencyCache: c.Skip.DependencyCache,
		IgnoreFiles:         c.IgnoreFiles,
		IgnoreExtensions:    c.IgnoreExtensions,
	}
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// SetDefaults registers the defaults of every key on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyFormat, d.Format)
	v.SetDefault(KeyMode, string(d.Mode))
	v.SetDefault(KeyCompress, d.Compress)
	v.SetDefault(KeyStripComments, d.StripComments)
	v.SetDefault(KeySkipVCS, d.Skip.VCS)
	v.SetDefault(KeySkipBuild, d.Skip.Build)
	v.SetDefault(KeySkipDependencyCache, d.Skip.DependencyCache)
	v.SetDefault(KeyUseGitignore, d.UseGitignore)
	v.SetDefault(KeyIgnoreFile, d.IgnoreFile)
	v.SetDefault(KeyIgnoreFiles, d.IgnoreFiles)
	v.SetDefault(KeyIgnoreExtensions, d.IgnoreExtensions)
	v.SetDefault(KeyMarkOmitted, d.MarkOmitted)
	v.SetDefault(KeyDeleteOnCancel, d.DeleteOnCancel)
}

// Load resolves the configuration held by v, which may already carry bound
// flags. configFile, when set, is the only file read and must exist.
// Otherwise sourcepack.{toml,yaml,json} is looked up in the user config
// directory and then in the working directory; finding none is fine.
//
// It returns the configuration and the path of the file read, if any.
func Load(v *viper.Viper, configFile string) (Config, string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, "", fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(ConfigFileName)
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, "", fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Mode = Mode(strings.ToLower(string(cfg.Mode)))
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}
