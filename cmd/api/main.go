package main

import (
	"flag"

	"github.com/Egham-7/tokentra/internal/config"
	pkgconfig "github.com/Egham-7/tokentra/pkg/config"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the collector YAML config")
	flag.Parse()

	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	collector := pkgconfig.NewCollector(cfg)

	fiberlog.Info("Starting Tokentra collector...")
	if err := collector.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
