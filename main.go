package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keyplane/control-plane/internal/auth"
	"github.com/keyplane/control-plane/internal/config"
	"github.com/keyplane/control-plane/internal/database"
	"github.com/keyplane/control-plane/internal/handlers"
	"github.com/keyplane/control-plane/internal/limits"
	"github.com/keyplane/control-plane/internal/logging"
	"github.com/keyplane/control-plane/internal/middleware"
	"github.com/keyplane/control-plane/internal/provision"
	"github.com/keyplane/control-plane/internal/roles"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: AuthDisabled=%v, TrialProduct=%s, TrialDuration=%s",
		config.Cfg.AuthDisabled, config.Cfg.TrialProduct, config.Cfg.TrialDuration)

	// Init session store
	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Session cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessionStore.Cleanup()
		}
	}()

	// Limit engine and key provisioning orchestrator
	limitEngine := limits.NewEngine()
	handlers.Limits = limitEngine
	if err := limitEngine.EnsureSystemDefaults(); err != nil {
		log.Fatalf("System limit seed: %v", err)
	}
	handlers.Orch = provision.New()

	// Hourly sweep deactivating trial teams past their expiry
	sched := cron.New()
	if _, err := sched.AddFunc("@hourly", handlers.ExpireTrialTeams); err != nil {
		log.Fatalf("Trial sweep schedule: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.Health)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Post("/auth/login", handlers.Login)
		r.Post("/auth/signup", handlers.SignupTrial)
		r.Post("/billing/webhook", handlers.BillingWebhook)

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			// Private AI keys (visibility filtered per caller)
			r.With(middleware.RequireRoles([]roles.Role{
				roles.RoleSystemAdmin, roles.RoleUser,
				roles.RoleTeamAdmin, roles.RoleKeyCreator,
			}, false)).Post("/private-ai-keys", handlers.CreateKey)
			r.Get("/private-ai-keys", handlers.ListKeys)
			r.Get("/private-ai-keys/{keyId}", handlers.GetKey)
			r.Delete("/private-ai-keys/{keyId}", handlers.DeleteKey)
			r.Get("/private-ai-keys/{keyId}/spend", handlers.GetKeySpend)
			r.Put("/private-ai-keys/{keyId}/budget-period", handlers.UpdateKeyBudgetPeriod)

			// Regions (read side open to all authenticated users)
			r.Get("/regions", handlers.ListRegions)

			// Teams (scoped reads; team admins may flip force_user_keys)
			r.Get("/teams", handlers.ListTeams)
			r.Get("/teams/{teamId}", handlers.GetTeam)
			r.Put("/teams/{teamId}", handlers.UpdateTeam)
			r.Get("/teams/{teamId}/limits", handlers.GetTeamLimits)

			// Per-user effective limits
			r.Get("/users/{userId}/limits", handlers.GetUserLimits)

			// Products are readable by anyone signed in
			r.Get("/products", handlers.ListProducts)
			r.Get("/products/{productId}", handlers.GetProduct)

			// System-admin routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSystemAdmin)

				// User management
				r.Get("/users", handlers.ListUsers)
				r.Post("/users", handlers.CreateUser)
				r.Delete("/users/{userId}", handlers.DeleteUser)
				r.Put("/users/{userId}/role", handlers.UpdateUserRole)

				// Team administration
				r.Post("/teams", handlers.CreateTeam)
				r.Delete("/teams/{teamId}", handlers.DeleteTeam)
				r.Post("/teams/{teamId}/products/{productId}", handlers.AttachTeamProduct)
				r.Delete("/teams/{teamId}/products/{productId}", handlers.DetachTeamProduct)
				r.Post("/teams/{teamId}/limits/reset", handlers.ResetTeamLimits)

				// Regions
				r.Post("/regions", handlers.CreateRegion)
				r.Get("/regions/{regionId}", handlers.GetRegion)
				r.Put("/regions/{regionId}", handlers.UpdateRegion)
				r.Delete("/regions/{regionId}", handlers.DeleteRegion)
				r.Post("/regions/{regionId}/teams/{teamId}", handlers.AssignRegionTeam)
				r.Delete("/regions/{regionId}/teams/{teamId}", handlers.UnassignRegionTeam)

				// Products
				r.Post("/products", handlers.CreateProduct)
				r.Delete("/products/{productId}", handlers.DeleteProduct)

				// Limits
				r.Get("/limits/system", handlers.GetSystemLimits)
				r.Put("/limits", handlers.SetLimit)
				r.Post("/limits/reset", handlers.ResetLimit)

				// Server logs
				r.Get("/logs", handlers.GetServerLogs)
			})
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *email == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: keyplane --%s --email <email> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Email:        *email,
			PasswordHash: hash,
			IsAdmin:      true,
			Role:         string(roles.RoleSystemAdmin),
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *email)

	case "reset-password":
		user, err := database.GetUserByEmail(*email)
		if err != nil {
			log.Fatalf("User '%s' not found", *email)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'. Note: existing sessions will expire within 1 hour.\n", *email)
	}
}
