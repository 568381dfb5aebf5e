package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const redacted = "******"

// Config is the effective pipewatch configuration
type Config struct {
	Jenkins   JenkinsConfig   `mapstructure:"jenkins" yaml:"jenkins"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type JenkinsConfig struct {
	URL        string        `mapstructure:"url" yaml:"url"`
	Username   string        `mapstructure:"username" yaml:"username"`
	APIToken   string        `mapstructure:"api_token" yaml:"api_token"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BuildLimit int           `mapstructure:"build_limit" yaml:"build_limit"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

type SchedulerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type MetricsConfig struct {
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`
}

type NotifyConfig struct {
	Recovery  bool        `mapstructure:"recovery" yaml:"recovery"`
	QueueSize int         `mapstructure:"queue_size" yaml:"queue_size"`
	Email     EmailConfig `mapstructure:"email" yaml:"email"`
	Slack     SlackConfig `mapstructure:"slack" yaml:"slack"`
}

type EmailConfig struct {
	Host       string   `mapstructure:"host" yaml:"host"`
	Port       int      `mapstructure:"port" yaml:"port"`
	Username   string   `mapstructure:"username" yaml:"username"`
	Password   string   `mapstructure:"password" yaml:"password"`
	From       string   `mapstructure:"from" yaml:"from"`
	Recipients []string `mapstructure:"recipients" yaml:"recipients"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// envAliases are the environment names used by existing deployments, checked
// before the PIPEWATCH_ prefixed form
var envAliases = map[string]string{
	"jenkins.url":              "JENKINS_URL",
	"jenkins.username":         "JENKINS_USERNAME",
	"jenkins.api_token":        "JENKINS_API_TOKEN",
	"store.mongo_uri":          "MONGODB_URI",
	"notify.slack.webhook_url": "SLACK_WEBHOOK_URL",
	"notify.email.host":        "SMTP_HOST",
	"notify.email.port":        "SMTP_PORT",
	"notify.email.username":    "SMTP_USERNAME",
	"notify.email.password":    "SMTP_PASSWORD",
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"jenkins-url": "jenkins.url",
	"store":       "store.driver",
	"data-dir":    "store.data_dir",
	"interval":    "scheduler.interval",
	"build-limit": "jenkins.build_limit",
	"window-days": "metrics.window_days",
	"api-addr":    "api.addr",
	"log-level":   "log.level",
	"log-json":    "log.json",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jenkins.url", "")
	v.SetDefault("jenkins.username", "")
	v.SetDefault("jenkins.api_token", "")
	v.SetDefault("jenkins.timeout", 5*time.Second)
	v.SetDefault("jenkins.build_limit", 100)

	v.SetDefault("store.driver", storage.DriverBolt)
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", storage.DefaultMongoDatabase)

	v.SetDefault("scheduler.interval", 30*time.Second)
	v.SetDefault("metrics.window_days", 30)

	v.SetDefault("notify.recovery", false)
	v.SetDefault("notify.queue_size", 100)
	v.SetDefault("notify.email.host", "smtp.gmail.com")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")
	v.SetDefault("notify.email.recipients", []string{})
	v.SetDefault("notify.slack.webhook_url", "")

	v.SetDefault("api.addr", ":5000")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults, the optional YAML file at path,
// the environment and the changed flags of fs, in increasing precedence.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIPEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env, "PIPEWATCH_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil && flag.Changed {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Notify.Email.Recipients = splitList(cfg.Notify.Email.Recipients)
	return &cfg, nil
}

// splitList flattens comma separated entries, as set from the environment
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.Jenkins.URL == "" {
		errs = multierror.Append(errs, errors.New("jenkins.url is required"))
	}
	if c.Jenkins.BuildLimit <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("jenkins.build_limit must be positive, got %d", c.Jenkins.BuildLimit))
	}
	if c.Jenkins.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("jenkins.timeout must be positive, got %s", c.Jenkins.Timeout))
	}
	switch c.Store.Driver {
	case storage.DriverBolt:
		if c.Store.DataDir == "" {
			errs = multierror.Append(errs, errors.New("store.data_dir is required for the bolt driver"))
		}
	case storage.DriverMongo:
		if c.Store.MongoURI == "" {
			errs = multierror.Append(errs, errors.New("store.mongo_uri is required for the mongo driver"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Scheduler.Interval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval))
	}
	if c.Metrics.WindowDays <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("metrics.window_days must be positive, got %d", c.Metrics.WindowDays))
	}
	if c.Notify.QueueSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("notify.queue_size must be positive, got %d", c.Notify.QueueSize))
	}
	return errs.ErrorOrNil()
}

// Redacted returns a copy with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	out.Notify.Email.Recipients = append([]string(nil), c.Notify.Email.Recipients...)
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&out.Jenkins.APIToken)
	mask(&out.Notify.Email.Password)
	mask(&out.Notify.Slack.WebhookURL)
	out.Store.MongoURI = redactURI(out.Store.MongoURI)
	return &out
}

// redactURI masks the password of a connection string
func redactURI(uri string) string {
	scheme := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if scheme < 0 || at < scheme {
		return uri
	}
	creds := uri[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon+1] + redacted
	}
	return uri[:scheme+3] + creds + uri[at:]
}

// YAML renders the configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
