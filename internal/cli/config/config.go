package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/bccache/internal/logging"
	"github.com/conduit-lang/bccache/internal/toolchain"
)

// FileName is the config file looked up in the working directory
const FileName = "bccache"

// EnvPrefix prefixes environment overrides, e.g. BCCACHE_CACHE_DIR
const EnvPrefix = "BCCACHE"

// Config represents the bccache configuration
type Config struct {
	CacheDir      string          `mapstructure:"cache_dir"`
	RuntimePath   string          `mapstructure:"runtime_path"`
	BuildChecksum string          `mapstructure:"build_checksum"`
	Fingerprint   string          `mapstructure:"fingerprint"`
	DumpIR        bool            `mapstructure:"dump_ir"`
	LockTimeout   time.Duration   `mapstructure:"lock_timeout"`
	Log           logging.Config  `mapstructure:"log"`
	Toolchain     ToolchainConfig `mapstructure:"toolchain"`
}

// ToolchainConfig represents the LLVM tools and target
type ToolchainConfig struct {
	LLC         string `mapstructure:"llc"`
	LLVMLink    string `mapstructure:"llvm_link"`
	LLVMDis     string `mapstructure:"llvm_dis"`
	Objcopy     string `mapstructure:"objcopy"`
	ManifestDir string `mapstructure:"manifest_dir"`
	Triple      string `mapstructure:"triple"`
}

// Tools returns the executables to run
func (t ToolchainConfig) Tools() toolchain.Tools {
	return toolchain.Tools{
		LLC:      t.LLC,
		LLVMLink: t.LLVMLink,
		LLVMDis:  t.LLVMDis,
		Objcopy:  t.Objcopy,
	}
}

// FieldError is a validation failure of one config key
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationError collects every invalid field
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func setDefaults(v *viper.Viper) {
	tools := toolchain.DefaultTools()

	v.SetDefault("cache_dir", ".bccache")
	v.SetDefault("runtime_path", "")
	v.SetDefault("build_checksum", "")
	v.SetDefault("fingerprint", "HostBuild")
	v.SetDefault("dump_ir", false)
	v.SetDefault("lock_timeout", time.Duration(0))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.compress", true)

	v.SetDefault("toolchain.llc", tools.LLC)
	v.SetDefault("toolchain.llvm_link", tools.LLVMLink)
	v.SetDefault("toolchain.llvm_dis", tools.LLVMDis)
	v.SetDefault("toolchain.objcopy", tools.Objcopy)
	v.SetDefault("toolchain.manifest_dir", "")
	v.SetDefault("toolchain.triple", "")
}

// Load loads the configuration from path, or from bccache.yml in the
// working directory when path is empty. A missing bccache.yml is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	if cfg.CacheDir == "" {
		add("cache_dir", "must not be empty")
	}
	if cfg.Fingerprint == "" {
		add("fingerprint", "must not be empty")
	}
	if cfg.LockTimeout < 0 {
		add("lock_timeout", "must not be negative")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level", fmt.Sprintf("must be one of debug, info, warn, error (got %q)", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		add("log.format", fmt.Sprintf("must be %s or %s (got %q)", logging.FormatConsole, logging.FormatJSON, cfg.Log.Format))
	}
	if cfg.Log.MaxSizeMB < 0 {
		add("log.max_size_mb", "must not be negative")
	}
	if cfg.Log.MaxBackups < 0 {
		add("log.max_backups", "must not be negative")
	}

	tools := []struct{ key, value string }{
		{"toolchain.llc", cfg.Toolchain.LLC},
		{"toolchain.llvm_link", cfg.Toolchain.LLVMLink},
		{"toolchain.llvm_dis", cfg.Toolchain.LLVMDis},
		{"toolchain.objcopy", cfg.Toolchain.Objcopy},
	}
	for _, tool := range tools {
		if tool.value == "" {
			add(tool.key, "must not be empty")
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
