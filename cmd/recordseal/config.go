package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/tidelock/recordseal"
	"github.com/tidelock/recordseal/pkg/kdf"
)

// fileConfig is the on-disk configuration consumed by the CLI. Environment
// variables of the form RECORDSEAL_* override individual settings.
type fileConfig struct {
	Mode       string `yaml:"mode"`
	Namespace  string `yaml:"namespace"`
	Production bool   `yaml:"production"`
	Store      string `yaml:"store"`    // badger | sql
	DataDir    string `yaml:"data_dir"` // badger store
	DSN        string `yaml:"dsn"`      // sql store
	DevSecret  string `yaml:"dev_secret"`

	KDFTime        uint32 `yaml:"kdf_time"`
	KDFMemory      uint32 `yaml:"kdf_memory"`
	KDFParallelism uint8  `yaml:"kdf_parallelism"`
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{
		Namespace: "default",
		Store:     "badger",
		DataDir:   ".recordseal",
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}

		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if v := os.Getenv("RECORDSEAL_MODE"); v != "" {
		cfg.Mode = v
	}

	if v := os.Getenv("RECORDSEAL_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}

	if os.Getenv("RECORDSEAL_PRODUCTION") == "true" {
		cfg.Production = true
	}

	return cfg, nil
}

// sealConfig maps the file configuration onto the library's Config.
func (c *fileConfig) sealConfig() *recordseal.Config {
	cfg := &recordseal.Config{
		Mode:       recordseal.Mode(c.Mode),
		Namespace:  c.Namespace,
		Production: c.Production,
	}

	if c.DevSecret != "" {
		cfg.DevSecret = []byte(c.DevSecret)
	}

	if c.KDFTime > 0 || c.KDFMemory > 0 || c.KDFParallelism > 0 {
		cfg.KDF = kdf.Params{
			Time:        c.KDFTime,
			Memory:      c.KDFMemory,
			Parallelism: c.KDFParallelism,
		}
	}

	return cfg
}
