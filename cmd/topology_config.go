package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/reqpipe/reqpipe/pipeline"
)

// mustLoadConfig returns the topology configuration: the built-in defaults,
// optionally overridden by the YAML file named by --config. The file may be
// partial; anything it omits keeps its default.
func mustLoadConfig() *pipeline.TopologyConfig {
	cfg := pipeline.DefaultConfig()
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		logrus.Fatalf("read config %s: %v", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		logrus.Fatalf("parse config %s: %v", configPath, err)
	}
	logrus.Infof("loaded topology config from %s", configPath)
	return cfg
}
