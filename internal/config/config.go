package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/keyplane.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/keyplane.log"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Trial bootstrap settings
	ProductCatalogPath string `envconfig:"PRODUCT_CATALOG" default:""`
	TrialProduct       string `envconfig:"TRIAL_PRODUCT" default:"trial"`
	TrialDuration      string `envconfig:"TRIAL_DURATION" default:"720h"`

	// Per-call timeouts for external collaborators
	GatewayTimeout string `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	DBAdminTimeout string `envconfig:"DB_ADMIN_TIMEOUT" default:"30s"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("KEYPLANE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
