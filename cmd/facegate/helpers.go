package main

import (
	"fmt"
	"os"

	facegate "github.com/facegate-io/facegate-go"
)

// getClient creates a FaceGate client from the stored config and
// environment. FACEGATE_BASE_URL overrides the stored base_url.
func getClient() *facegate.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts []facegate.ClientOption
	if cfg.Default.BaseURL != "" && os.Getenv(facegate.EnvBaseURL) == "" {
		opts = append(opts, facegate.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Token != "" {
		opts = append(opts, facegate.WithToken(cfg.Default.Token))
	}

	return facegate.NewClient(opts...)
}
