// Package provision creates and destroys private AI keys: paired resources
// spanning two uncoordinated external systems, an isolated Postgres
// database and a gateway token. There is no two-phase commit between them;
// the flows run as sagas with explicit, best-effort compensations.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyplane/control-plane/internal/config"
	"github.com/keyplane/control-plane/internal/crypto"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/dbadmin"
	"github.com/keyplane/control-plane/internal/gateway"
)

var (
	// ErrValidation covers malformed or mutually exclusive input.
	ErrValidation = errors.New("invalid request")
	// ErrForbidden is deliberately vague; see roles.ErrForbidden.
	ErrForbidden = errors.New("not authorized")
	// ErrNotFound covers missing owners and regions. Cross-tenant lookups
	// answer not-found rather than forbidden so they never confirm another
	// tenant's resource exists.
	ErrNotFound = errors.New("not found")
	// ErrExternal covers gateway and database-admin failures. Raw external
	// error text is logged, never returned to clients.
	ErrExternal = errors.New("external service failure")
)

// GatewayClient is the token authority for one region.
type GatewayClient interface {
	CreateKey(email, name string, ownerID uint) (string, error)
	DeleteKey(token string) error
	GetKeyInfo(token string) (*gateway.KeyInfo, error)
	UpdateBudgetDuration(token, duration string) error
}

// DatabaseAdmin provisions and tears down isolated databases for one
// region.
type DatabaseAdmin interface {
	CreateDatabase(ctx context.Context, spec dbadmin.DatabaseSpec) error
	DeleteDatabase(ctx context.Context, dbName, dbUser string) error
}

// Orchestrator builds per-region collaborators through factory funcs so
// tests can substitute recording fakes.
type Orchestrator struct {
	NewGateway func(region *database.Region) (GatewayClient, error)
	NewAdmin   func(region *database.Region) (DatabaseAdmin, error)
}

func New() *Orchestrator {
	return &Orchestrator{
		NewGateway: defaultGateway,
		NewAdmin:   defaultAdmin,
	}
}

func defaultGateway(region *database.Region) (GatewayClient, error) {
	apiKey, err := crypto.Decrypt(region.GatewayAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt gateway key for region %d: %w", region.ID, err)
	}
	timeout, err := time.ParseDuration(config.Cfg.GatewayTimeout)
	if err != nil {
		timeout = 10 * time.Second
	}
	return gateway.NewClient(region.GatewayAPIURL, apiKey, timeout), nil
}

func defaultAdmin(region *database.Region) (DatabaseAdmin, error) {
	password, err := crypto.Decrypt(region.PostgresAdminPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt admin password for region %d: %w", region.ID, err)
	}
	timeout, err := time.ParseDuration(config.Cfg.DBAdminTimeout)
	if err != nil {
		timeout = 30 * time.Second
	}
	return &dbadmin.Admin{
		Host:     region.PostgresHost,
		Port:     region.PostgresPort,
		User:     region.PostgresAdminUser,
		Password: password,
		Timeout:  timeout,
	}, nil
}
