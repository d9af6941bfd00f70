package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// reservedSubdomains are host labels that never identify a tenant.
var reservedSubdomains = map[string]bool{
	"www":   true,
	"api":   true,
	"admin": true,
}

// ResolveOptions controls how the tenant middleware identifies a tenant.
type ResolveOptions struct {
	// Subdomains enables deriving the tenant from the leftmost host label
	// when no X-Tenant-ID header is present.
	Subdomains bool
	// PublicPath reports whether a path bypasses tenant resolution entirely
	// (health checks, auth, documentation).
	PublicPath func(path string) bool
}

// ResolveTenant extracts the tenant identifier from a request, or "" if none
// could be determined. Resolution order: explicit X-Tenant-ID header, then the
// request's subdomain when enabled.
func ResolveTenant(c echo.Context, opts ResolveOptions) string {
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if opts.Subdomains {
		return tenantFromHost(c.Request().Host)
	}
	return ""
}

// tenantFromHost derives a tenant identifier from the leftmost label of a
// host with at least three dot-separated labels, e.g.
// "clinic-a.hmis.example.com" -> "clinic_a". Reserved labels (www, api,
// admin) and bare domains yield no tenant.
func tenantFromHost(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	sub := strings.ToLower(labels[0])
	if sub == "" || reservedSubdomains[sub] {
		return ""
	}
	// Hyphens are legal in hostnames but not in schema names.
	return strings.ReplaceAll(sub, "-", "_")
}

// SchemaName returns the Postgres schema that holds a tenant's tables.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

// TenantMiddleware resolves the tenant for every non-public request and binds
// a pooled connection to the tenant's schema for the duration of the request.
// Unqualified table names resolve against the tenant schema first, then the
// shared schema. The tenant identifier and connection live on the request
// context only, so nothing leaks across requests on a reused connection: the
// connection's search_path is rewritten here on acquisition and reset by the
// pool on release (see PoolConfig).
//
// A request on a guarded route with no resolvable tenant is rejected with 400.
// A tenant whose schema does not exist is rejected with 404 rather than
// silently reading the wrong data.
func TenantMiddleware(pool *pgxpool.Pool, opts ResolveOptions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if opts.PublicPath != nil && opts.PublicPath(c.Request().URL.Path) {
				return next(c)
			}

			tenantID := ResolveTenant(c, opts)
			if tenantID == "" {
				return echo.NewHTTPError(http.StatusBadRequest,
					"tenant could not be determined: set the X-Tenant-ID header or use a tenant subdomain")
			}
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			schema := SchemaName(tenantID)
			var exists bool
			err = conn.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
				schema).Scan(&exists)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			if !exists {
				return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown tenant: %s", tenantID))
			}

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the schema for a new tenant, runs the tenant
// migrations against it when migrationsDir is non-empty, and registers the
// tenant in the shared registry table.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrationsDir string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}

	schema := SchemaName(tenantID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO shared.tenants (id, schema_name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, tenantID, schema)
	if err != nil {
		return fmt.Errorf("register tenant %s: %w", tenantID, err)
	}

	return nil
}
