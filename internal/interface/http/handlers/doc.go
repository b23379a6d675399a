// Package handlers contains reusable HTTP middleware and health checks for
// the internal API.
//
// # Health Checks
//
// Checks are registered by name and executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("scheduler", handlers.NewRunningCheck("scheduler", sched.IsRunning))
//
// A failing optional check marks the service unhealthy but keeps it ready.
//
// # API Keys
//
// Service callers authenticate with X-API-Key (or a Bearer header). Only the
// bcrypt hash of each key is configured:
//
//	auth := handlers.NewAPIKeyAuth(handlers.DefaultAPIKeyHeader, cfg.Auth.APIKeyHashes)
//	r.With(auth.Middleware).Post("/internal/v1/schedules", ...)
package handlers
