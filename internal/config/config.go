// Package config loads and validates the publisher configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/quaypush/internal/domain"
)

// DefaultRemoveRepoTopic is the topic repository removals are announced on.
const DefaultRemoveRepoTopic = domain.RemoveRepoTopic

// Config holds the application configuration.
type Config struct {
	TaskID  string        `mapstructure:"task_id"`
	Quay    QuayConfig    `mapstructure:"quay"`
	Stage   StageConfig   `mapstructure:"stage"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Pyxis   PyxisConfig   `mapstructure:"pyxis"`
	Signing SigningConfig `mapstructure:"signing"`
	IIB     IIBConfig     `mapstructure:"iib"`
	UMB     UMBConfig     `mapstructure:"umb"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// QuayConfig holds the Quay registry and REST API settings.
type QuayConfig struct {
	Host      string        `mapstructure:"host"`
	Namespace string        `mapstructure:"namespace"`
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	APIToken  string        `mapstructure:"api_token"`
	Insecure  bool          `mapstructure:"insecure"`
	RetryMax  int           `mapstructure:"retry_max"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StageConfig is set when a run propagates content already published to stage.
type StageConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// DockerConfig holds the customer-facing registry settings.
type DockerConfig struct {
	ReferenceRegistries []string `mapstructure:"reference_registries"`
}

// PyxisConfig holds the signature store and repository catalog settings.
type PyxisConfig struct {
	Server          string        `mapstructure:"server"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	CAFile          string        `mapstructure:"ca_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CatalogRegistry string        `mapstructure:"catalog_registry"`
	Organization    string        `mapstructure:"organization"`
	UploadWorkers   int           `mapstructure:"upload_workers"`
}

// SigningConfig holds the signing workflow settings.
type SigningConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Creator        string        `mapstructure:"creator"`
	MaxUploadItems int           `mapstructure:"max_upload_items"`
	QueryBatchSize int           `mapstructure:"query_batch_size"`
	QueryRPS       float64       `mapstructure:"query_rps"`
	SignTopic      string        `mapstructure:"sign_topic"`
	ReplyAddress   string        `mapstructure:"reply_address"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Throttle       int           `mapstructure:"throttle"`
	Retry          int           `mapstructure:"retry"`
}

// IIBConfig holds the operator index build settings.
type IIBConfig struct {
	Server                  string        `mapstructure:"server"`
	Token                   string        `mapstructure:"token"`
	IndexImage              string        `mapstructure:"index_image"`
	OperatorRepository      string        `mapstructure:"operator_repository"`
	OverwriteFromIndex      bool          `mapstructure:"overwrite_from_index"`
	OverwriteFromIndexToken string        `mapstructure:"overwrite_from_index_token"`
	DeprecationListURL      string        `mapstructure:"deprecation_list_url"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	PollTimeout             time.Duration `mapstructure:"poll_timeout"`
}

// UMBConfig holds the message bus settings.
type UMBConfig struct {
	URLs     []string `mapstructure:"urls"`
	CertFile string   `mapstructure:"cert_file"`
	KeyFile  string   `mapstructure:"key_file"`
	CAFile   string   `mapstructure:"ca_file"`
	Topic    string   `mapstructure:"topic"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"`
	File   LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig holds rotated log file settings.
type LoggingFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus Pushgateway settings.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load reads the configuration from configPath (or the default search
// paths when empty), the environment and the defaults.
func Load(v *viper.Viper, configPath string) (Config, error) {
	setDefaults(v)
	configureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Quay.Host = strings.TrimRight(cfg.Quay.Host, "/")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("quay.host", "quay.io")
	v.SetDefault("quay.retry_max", 3)
	v.SetDefault("quay.timeout", 60*time.Second)
	v.SetDefault("pyxis.timeout", 60*time.Second)
	v.SetDefault("pyxis.catalog_registry", "registry.access.redhat.com")
	v.SetDefault("pyxis.organization", "redhat")
	v.SetDefault("pyxis.upload_workers", 4)
	v.SetDefault("signing.enabled", false)
	v.SetDefault("signing.creator", "quaypush")
	v.SetDefault("signing.max_upload_items", 100)
	v.SetDefault("signing.query_batch_size", 50)
	v.SetDefault("signing.query_rps", 10)
	v.SetDefault("signing.sign_topic", "topic://VirtualTopic.eng.robosignatory.container.sign")
	v.SetDefault("signing.timeout", 600*time.Second)
	v.SetDefault("signing.throttle", 100)
	v.SetDefault("signing.retry", 3)
	v.SetDefault("iib.poll_interval", 30*time.Second)
	v.SetDefault("iib.poll_timeout", 2*time.Hour)
	v.SetDefault("umb.topic", DefaultRemoveRepoTopic)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", true)
	v.SetDefault("metrics.job", "quaypush")
}

func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("quaypush")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(userConfigDir, "quaypush"))
		}
		v.AddConfigPath("/etc/quaypush")
	}

	v.SetEnvPrefix("QUAYPUSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets usually come from the environment only; binding them makes
	// Unmarshal see keys that have neither a default nor a file entry.
	for _, key := range []string{"quay.user", "quay.password", "quay.api_token", "iib.token", "iib.overwrite_from_index_token"} {
		_ = v.BindEnv(key)
	}
}

// ValidateQuay checks the settings every command needs to talk to Quay.
func (c Config) ValidateQuay() error {
	required := map[string]string{
		"quay.namespace": c.Quay.Namespace,
		"quay.user":      c.Quay.User,
		"quay.password":  c.Quay.Password,
		"quay.api_token": c.Quay.APIToken,
	}
	return requireSettings(required)
}

// ValidatePush checks the settings a publish run needs.
func (c Config) ValidatePush() error {
	if err := c.ValidateQuay(); err != nil {
		return err
	}
	if err := requireSettings(map[string]string{"pyxis.server": c.Pyxis.Server}); err != nil {
		return err
	}
	if len(c.Docker.ReferenceRegistries) == 0 {
		return fmt.Errorf("%w: docker.reference_registries must be set", domain.ErrInvalidConfiguration)
	}
	if c.Signing.Enabled && len(c.UMB.URLs) == 0 {
		return fmt.Errorf("%w: umb.urls must be set when signing is enabled", domain.ErrInvalidConfiguration)
	}
	return c.ValidateIIB()
}

// ValidateIIB checks the operator index settings. They are only required
// once an operator item is published, except for the overwrite pair which
// must be consistent at all times.
func (c Config) ValidateIIB() error {
	if c.IIB.OverwriteFromIndex != (c.IIB.OverwriteFromIndexToken != "") {
		return fmt.Errorf("%w: either both or neither of iib.overwrite_from_index and iib.overwrite_from_index_token should be specified",
			domain.ErrInvalidConfiguration)
	}
	return nil
}

// ValidateOperators checks the settings needed once operator items are present.
func (c Config) ValidateOperators() error {
	return requireSettings(map[string]string{
		"iib.server":               c.IIB.Server,
		"iib.index_image":          c.IIB.IndexImage,
		"iib.operator_repository":  c.IIB.OperatorRepository,
		"iib.deprecation_list_url": c.IIB.DeprecationListURL,
	})
}

// ValidateIndexTasks checks the settings of the standalone index image tasks.
func (c Config) ValidateIndexTasks() error {
	if err := c.ValidateQuay(); err != nil {
		return err
	}
	if err := requireSettings(map[string]string{
		"pyxis.server":            c.Pyxis.Server,
		"iib.server":              c.IIB.Server,
		"iib.operator_repository": c.IIB.OperatorRepository,
	}); err != nil {
		return err
	}
	if len(c.Docker.ReferenceRegistries) == 0 {
		return fmt.Errorf("%w: docker.reference_registries must be set", domain.ErrInvalidConfiguration)
	}
	if len(c.UMB.URLs) == 0 {
		return fmt.Errorf("%w: umb.urls must be set to sign index images", domain.ErrInvalidConfiguration)
	}
	return c.ValidateIIB()
}

// ValidateNotification checks the settings needed to publish on the message bus.
func (c Config) ValidateNotification() error {
	if len(c.UMB.URLs) == 0 {
		return fmt.Errorf("%w: UMB URL must be specified if sending a UMB message was requested", domain.ErrInvalidConfiguration)
	}
	if c.UMB.CertFile == "" {
		return fmt.Errorf("%w: a path to a client certificate must be provided when sending a UMB message", domain.ErrInvalidConfiguration)
	}
	return nil
}

func requireSettings(settings map[string]string) error {
	var missing []string
	for key, value := range settings {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s must be set", domain.ErrInvalidConfiguration, strings.Join(missing, ", "))
}
