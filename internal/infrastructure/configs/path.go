package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/stockchat/internal/infrastructure/env"
)

var candidatePaths = []string{
	"./config.yaml",
	"./config.yml",
	"./tmp/config.yaml",
	"../../config.yaml",
	"/etc/stockchat/config.yaml",
	"/app/config.yaml",
}

// DetermineConfigPath registers the --config flag, parses the command line
// and resolves the config file. Callers must register their own flags first.
// It returns "" when no file is found.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if configPath == "" {
		configPath = env.GetString("STOCKCHAT_CONFIG", "")
	}

	if configPath == "" {
		configPath = firstExisting(candidatePaths)
	}

	return configPath
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
