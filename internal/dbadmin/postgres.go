// Package dbadmin runs database-level DDL against a region's Postgres
// server using its admin credentials. DDL statements do not roll back: a
// failure partway through CreateDatabase leaves the already-created
// database and role behind for manual cleanup.
package dbadmin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Admin holds a region's Postgres admin connection parameters.
type Admin struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// DatabaseSpec describes one isolated database to provision. GatewayToken
// is recorded inside the new database so the data plane can resolve which
// gateway credential the instance belongs to.
type DatabaseSpec struct {
	Name         string
	User         string
	Password     string
	GatewayToken string
}

func (a *Admin) connString(dbName string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(a.User, a.Password),
		Host:   fmt.Sprintf("%s:%d", a.Host, a.Port),
		Path:   "/" + dbName,
	}
	q := u.Query()
	q.Set("sslmode", "prefer")
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *Admin) connect(ctx context.Context, dbName string) (*pgx.Conn, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := pgx.Connect(connCtx, a.connString(dbName))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", dbName, err)
	}
	return conn, nil
}

// quoteLiteral escapes a string for use as a SQL literal in DDL that does
// not accept bind parameters (CREATE ROLE ... PASSWORD).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CreateDatabase provisions an isolated database: database + login role,
// privileges, schema ownership, default privileges and the vector
// extension. Statements run sequentially on admin connections; any error
// aborts the sequence and surfaces to the caller with whatever DDL already
// committed left in place.
func (a *Admin) CreateDatabase(ctx context.Context, spec DatabaseSpec) error {
	dbIdent := pgx.Identifier{spec.Name}.Sanitize()
	userIdent := pgx.Identifier{spec.User}.Sanitize()

	conn, err := a.connect(ctx, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	steps := []string{
		fmt.Sprintf("CREATE DATABASE %s", dbIdent),
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s", userIdent, quoteLiteral(spec.Password)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", dbIdent, userIdent),
	}
	for _, stmt := range steps {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision %s: %w", spec.Name, err)
		}
	}

	// Schema-level statements must run inside the new database.
	dbConn, err := a.connect(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("provision %s: %w", spec.Name, err)
	}
	defer dbConn.Close(ctx)

	schemaSteps := []string{
		fmt.Sprintf("ALTER SCHEMA public OWNER TO %s", userIdent),
		fmt.Sprintf("GRANT ALL ON SCHEMA public TO %s", userIdent),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO %s", userIdent),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES TO %s", userIdent),
		"CREATE EXTENSION IF NOT EXISTS vector",
	}
	for _, stmt := range schemaSteps {
		if _, err := dbConn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision %s: %w", spec.Name, err)
		}
	}

	if _, err := dbConn.Exec(ctx,
		"CREATE TABLE IF NOT EXISTS _keyplane_metadata (key text PRIMARY KEY, value text NOT NULL)"); err != nil {
		return fmt.Errorf("provision %s: %w", spec.Name, err)
	}
	if _, err := dbConn.Exec(ctx,
		"INSERT INTO _keyplane_metadata (key, value) VALUES ('gateway_token', $1) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		spec.GatewayToken); err != nil {
		return fmt.Errorf("provision %s: %w", spec.Name, err)
	}

	return nil
}

// DeleteDatabase forcibly terminates active backends, drops the database
// and removes its login role. IF EXISTS keeps repeated teardowns safe.
func (a *Admin) DeleteDatabase(ctx context.Context, dbName, dbUser string) error {
	conn, err := a.connect(ctx, "postgres")
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		dbName); err != nil {
		return fmt.Errorf("terminate backends for %s: %w", dbName, err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", pgx.Identifier{dbName}.Sanitize())); err != nil {
		return fmt.Errorf("drop database %s: %w", dbName, err)
	}

	if dbUser != "" {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP ROLE IF EXISTS %s", pgx.Identifier{dbUser}.Sanitize())); err != nil {
			return fmt.Errorf("drop role %s: %w", dbUser, err)
		}
	}

	return nil
}
