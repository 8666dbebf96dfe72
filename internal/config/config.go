package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/orchestrator/idle"
	"github.com/rzbill/kadali/pkg/types"
)

// EnvPrefix prefixes environment overrides: KADALI_STORE_BACKEND=postgres.
const EnvPrefix = "KADALI"

// DefaultHTTPPort is the default API port.
const DefaultHTTPPort = 7070

// Store backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type TLS struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

type Server struct {
	HTTPAddr       string        `yaml:"http_address" mapstructure:"http_address"`
	TLS            TLS           `yaml:"tls" mapstructure:"tls"`
	APIKeys        []string      `yaml:"api_keys" mapstructure:"api_keys"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

type Client struct {
	Address string        `yaml:"address" mapstructure:"address"`
	Token   string        `yaml:"token" mapstructure:"token"`
	Tenant  string        `yaml:"tenant" mapstructure:"tenant"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type Store struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
}

type Kubernetes struct {
	// Kubeconfig path; empty means in-cluster configuration
	Kubeconfig      string `yaml:"kubeconfig" mapstructure:"kubeconfig"`
	SparkImage      string `yaml:"spark_image" mapstructure:"spark_image"`
	ServiceAccount  string `yaml:"service_account" mapstructure:"service_account"`
	UIPort          int32  `yaml:"ui_port" mapstructure:"ui_port"`
	MasterURL       string `yaml:"master_url" mapstructure:"master_url"`
	ImagePullPolicy string `yaml:"image_pull_policy" mapstructure:"image_pull_policy"`
}

type Lifecycle struct {
	ProvisionTimeout   time.Duration `yaml:"provision_timeout" mapstructure:"provision_timeout"`
	DefaultIdleMinutes int           `yaml:"default_idle_minutes" mapstructure:"default_idle_minutes"`
}

type Reaper struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Schedule    string `yaml:"schedule" mapstructure:"schedule"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type Config struct {
	Server     Server     `yaml:"server" mapstructure:"server"`
	Client     Client     `yaml:"client" mapstructure:"client"`
	DataDir    string     `yaml:"data_dir" mapstructure:"data_dir"`
	Store      Store      `yaml:"store" mapstructure:"store"`
	Kubernetes Kubernetes `yaml:"kubernetes" mapstructure:"kubernetes"`
	Lifecycle  Lifecycle  `yaml:"lifecycle" mapstructure:"lifecycle"`
	Reaper     Reaper     `yaml:"reaper" mapstructure:"reaper"`
	Log        log.Config `yaml:"log" mapstructure:"log"`
	Metrics    Metrics    `yaml:"metrics" mapstructure:"metrics"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			HTTPAddr:       fmt.Sprintf(":%d", DefaultHTTPPort),
			RequestTimeout: 5 * time.Minute,
		},
		Client: Client{
			Address: fmt.Sprintf("http://localhost:%d", DefaultHTTPPort),
			Timeout: 5 * time.Minute,
		},
		DataDir: defaultDataDir(),
		Store:   Store{Backend: BackendBadger},
		Kubernetes: Kubernetes{
			SparkImage:      "apache/spark:3.5.1",
			ServiceAccount:  "spark",
			UIPort:          4040,
			MasterURL:       "k8s://https://kubernetes.default.svc:443",
			ImagePullPolicy: "IfNotPresent",
		},
		Lifecycle: Lifecycle{
			ProvisionTimeout:   2 * time.Minute,
			DefaultIdleMinutes: types.DefaultIdleMinutes,
		},
		Reaper: Reaper{
			Enabled:     true,
			Schedule:    idle.DefaultSchedule,
			Concurrency: idle.DefaultConcurrency,
		},
		Log:     *log.DefaultConfig(),
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
	}
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return "./data"
	}
	// prefer /var/lib/kadali if /var/lib exists
	if st, err := os.Stat("/var/lib"); err == nil && st.IsDir() {
		return "/var/lib/kadali"
	}
	return filepath.Join(home, ".kadali")
}

// Load reads the configuration file at path, or kadali.yaml from the working
// directory and /etc/kadali when path is empty, then applies KADALI_*
// environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load on a caller-prepared viper, typically one with cobra flags
// bound so they take precedence over the file and environment.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kadali")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")            // Local development override
		v.AddConfigPath("/etc/kadali/") // System-wide production config
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Unmarshal(v)
}

// NewViper returns a viper instance with every key defaulted and environment
// overrides enabled. Callers may bind cobra flags to it before Unmarshal.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// Unmarshal decodes v into a Config.
func Unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.http_address", d.Server.HTTPAddr)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.api_keys", d.Server.APIKeys)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)

	v.SetDefault("client.address", d.Client.Address)
	v.SetDefault("client.token", d.Client.Token)
	v.SetDefault("client.tenant", d.Client.Tenant)
	v.SetDefault("client.timeout", d.Client.Timeout)

	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)

	v.SetDefault("kubernetes.kubeconfig", d.Kubernetes.Kubeconfig)
	v.SetDefault("kubernetes.spark_image", d.Kubernetes.SparkImage)
	v.SetDefault("kubernetes.service_account", d.Kubernetes.ServiceAccount)
	v.SetDefault("kubernetes.ui_port", d.Kubernetes.UIPort)
	v.SetDefault("kubernetes.master_url", d.Kubernetes.MasterURL)
	v.SetDefault("kubernetes.image_pull_policy", d.Kubernetes.ImagePullPolicy)

	v.SetDefault("lifecycle.provision_timeout", d.Lifecycle.ProvisionTimeout)
	v.SetDefault("lifecycle.default_idle_minutes", d.Lifecycle.DefaultIdleMinutes)

	v.SetDefault("reaper.enabled", d.Reaper.Enabled)
	v.SetDefault("reaper.schedule", d.Reaper.Schedule)
	v.SetDefault("reaper.concurrency", d.Reaper.Concurrency)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.enable_caller", d.Log.EnableCaller)
	v.SetDefault("log.redacted_fields", d.Log.RedactedFields)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendBadger:
		if c.DataDir == "" {
			errs = append(errs, fmt.Errorf("data_dir is required for the badger store"))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("store.postgres_dsn is required for the postgres store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q (want badger, postgres or memory)", c.Store.Backend))
	}

	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive"))
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires cert_file and key_file"))
	}
	if c.Lifecycle.ProvisionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lifecycle.provision_timeout must be positive"))
	}
	if c.Lifecycle.DefaultIdleMinutes < 0 {
		errs = append(errs, fmt.Errorf("lifecycle.default_idle_minutes must not be negative"))
	}

	if _, err := idle.ParseSchedule(c.Reaper.Schedule); err != nil {
		errs = append(errs, err)
	}
	if c.Reaper.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("reaper.concurrency must be positive"))
	}

	if c.Kubernetes.UIPort <= 0 || c.Kubernetes.UIPort > 65535 {
		errs = append(errs, fmt.Errorf("kubernetes.ui_port %d is out of range", c.Kubernetes.UIPort))
	}
	switch c.Kubernetes.ImagePullPolicy {
	case "", "Always", "IfNotPresent", "Never":
	default:
		errs = append(errs, fmt.Errorf("unknown kubernetes.image_pull_policy %q", c.Kubernetes.ImagePullPolicy))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if len(c.Server.APIKeys) > 0 {
		out.Server.APIKeys = make([]string, len(c.Server.APIKeys))
		for i := range out.Server.APIKeys {
			out.Server.APIKeys[i] = "[REDACTED]"
		}
	}
	if out.Client.Token != "" {
		out.Client.Token = "[REDACTED]"
	}
	if out.Store.PostgresDSN != "" {
		out.Store.PostgresDSN = "[REDACTED]"
	}
	return &out
}
