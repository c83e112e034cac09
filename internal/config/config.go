package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kardianos/osext"
	"github.com/spf13/viper"

	"focuslens/internal/classify"
	"focuslens/internal/ipc"
)

const (
	minPollInterval     = 500 * time.Millisecond
	minLivenessTimeout  = 5 * time.Second
	maxRefineBatchSize  = 32
	defaultProbeBinary  = "focuslens-probe"
	defaultDatabaseName = "focuslens.db"
)

type DetectorConfig struct {
	Shell           string        `mapstructure:"shell"`
	Script          string        `mapstructure:"script"`
	ProbeCommand    string        `mapstructure:"probe_command"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
}

type LLMConfig struct {
	Backend string        `mapstructure:"backend"` // "openai", "anthropic" or "disabled"
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RefineConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
	QueueSize int           `mapstructure:"queue_size"`
}

type ClassifyConfig struct {
	Rules []classify.RuleSpec `mapstructure:"rules"`
}

type Config struct {
	DatabasePath string         `mapstructure:"database_path"`
	SocketPath   string         `mapstructure:"socket_path"`
	StreamAddr   string         `mapstructure:"stream_addr"` // empty disables the websocket stream
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	AFKThreshold time.Duration  `mapstructure:"afk_threshold"`
	Detector     DetectorConfig `mapstructure:"detector"`
	LLM          LLMConfig      `mapstructure:"llm"`
	Refine       RefineConfig   `mapstructure:"refine"`
	Classify     ClassifyConfig `mapstructure:"classify"`

	v    *viper.Viper
	once sync.Once
}

// DefaultProbeScript launches the probe binary installed next to the running
// executable, falling back to $PATH.
func DefaultProbeScript() string {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		log.Printf("Warning: cannot locate executable folder, expecting %s on PATH: %v", defaultProbeBinary, err)
		return "exec " + defaultProbeBinary
	}
	return fmt.Sprintf("exec %q", filepath.Join(dir, defaultProbeBinary))
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/focuslens")
		v.AddConfigPath("/etc/focuslens/")
	}

	v.SetEnvPrefix("FOCUSLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", defaultDatabaseName)
	v.SetDefault("socket_path", ipc.DefaultSocketPath)
	v.SetDefault("stream_addr", "127.0.0.1:7465")
	v.SetDefault("poll_interval", "2s")
	v.SetDefault("afk_threshold", "3m")
	v.SetDefault("detector.shell", "sh")
	v.SetDefault("detector.script", DefaultProbeScript())
	v.SetDefault("detector.probe_command", "echo ok")
	v.SetDefault("detector.probe_timeout", "3s")
	v.SetDefault("detector.liveness_timeout", "25s")
	v.SetDefault("llm.backend", "disabled")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "20s")
	v.SetDefault("refine.interval", "2.5s")
	v.SetDefault("refine.batch_size", 8)
	v.SetDefault("refine.cooldown", "60s")
	v.SetDefault("refine.cache_ttl", "12h")
	v.SetDefault("refine.cache_size", 1200)
	v.SetDefault("refine.queue_size", 48)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded from %q", v.ConfigFileUsed())
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.validate()
	return cfg, nil
}

// validate clamps out-of-range values, logging each correction.
func (c *Config) validate() {
	if c.PollInterval < minPollInterval {
		log.Printf("Warning: poll_interval %s too low, setting to %s", c.PollInterval, minPollInterval)
		c.PollInterval = minPollInterval
	}
	if c.AFKThreshold < 30*time.Second {
		log.Printf("Warning: afk_threshold %s below 30s, setting to 30s", c.AFKThreshold)
		c.AFKThreshold = 30 * time.Second
	}
	if c.Detector.LivenessTimeout < minLivenessTimeout {
		log.Printf("Warning: detector.liveness_timeout %s too low, setting to %s", c.Detector.LivenessTimeout, minLivenessTimeout)
		c.Detector.LivenessTimeout = minLivenessTimeout
	}
	if c.Refine.BatchSize > maxRefineBatchSize {
		log.Printf("Warning: refine.batch_size %d too high, setting to %d", c.Refine.BatchSize, maxRefineBatchSize)
		c.Refine.BatchSize = maxRefineBatchSize
	}
	c.LLM.Backend = strings.ToLower(strings.TrimSpace(c.LLM.Backend))
	switch c.LLM.Backend {
	case "", "disabled", "none", "openai", "anthropic":
	default:
		log.Printf("Warning: invalid llm.backend '%s', disabling AI refinement", c.LLM.Backend)
		c.LLM.Backend = "disabled"
	}
}

// Watch calls fn with the re-read configuration whenever the config file
// changes. A file that no longer decodes is logged and skipped. Watch only
// takes effect once per Config and needs a config file to watch.
func (c *Config) Watch(fn func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.once.Do(func() {
		c.v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			next, err := decode(c.v)
			if err != nil {
				log.Printf("Warning: ignoring config change in %s: %v", e.Name, err)
				return
			}
			log.Printf("Config file changed: %s", e.Name)
			fn(next)
		})
		c.v.WatchConfig()
	})
}

// ClassifierRules compiles the user classification rules.
func (c *Config) ClassifierRules() ([]classify.Rule, error) {
	return classify.CompileRules(c.Classify.Rules)
}
