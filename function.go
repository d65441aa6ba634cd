// Package orderpush registers the Cloud Functions entry points.
//
// Dependencies are wired once per instance in init (cold start); every
// invocation reuses them. A configuration or connection failure stops the
// instance before it accepts events.
package orderpush

import (
	"context"
	"io"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"orderpush/internal/app"
	"orderpush/internal/config"
	"orderpush/internal/logging"
)

func init() {
	boot := logging.New(os.Getenv("LOG_LEVEL"), os.Stdout)

	provider := config.NewSecretProvider(os.Getenv("SECRET_PROVIDER"), os.Getenv("GOOGLE_CLOUD_PROJECT"))
	cfg, err := config.LoadConfig(provider)
	if c, ok := provider.(io.Closer); ok {
		_ = c.Close()
	}
	if err != nil {
		boot.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewAdapter(logging.New(cfg.LogLevel, os.Stdout)).With(
		"service", cfg.Service,
		"environment", cfg.Environment,
	)

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialise functions", "error", err)
		os.Exit(1)
	}

	functions.CloudEvent("CheckPushData", application.CheckPushData)
	functions.CloudEvent("StoreOrderData", application.StoreOrderData)
}
