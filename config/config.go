package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "scenesync.yaml"

type Config struct {
	Listen       string        `yaml:"listen"`
	Scene        string        `yaml:"scene"`
	Arbiter      bool          `yaml:"arbiter"`
	LogLevel     string        `yaml:"log_level"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

func Default() Config {
	return Config{
		Listen:       ":8000",
		Arbiter:      true,
		LogLevel:     "info",
		PingInterval: 30 * time.Second,
		WriteTimeout: 40 * time.Second,
		SendBuffer:   32,
	}
}

// Load reads path over the defaults. A missing file is not an error when
// path is the default file name.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFile
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultFile {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "Failed to open config")
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "Failed to parse config %q", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 {
		return errors.Errorf("ping_interval and write_timeout must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "log_level")
	}
	return nil
}

// ApplyLogLevel sets the global logrus level.
func (c Config) ApplyLogLevel() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "log_level")
	}
	log.SetLevel(level)
	return nil
}
