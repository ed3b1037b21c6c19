package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/NikhilSetiya/errwatch/internal/database"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/internal/remediation"
	"github.com/NikhilSetiya/errwatch/internal/supabase"
	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
)

// defaultRetention keeps resolved errors for a month
const defaultRetention = 30 * 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch command {
	case "maintain":
		handleMaintain(cfg, os.Args[2:])
		return
	case "seed":
		handleSeed(cfg)
		return
	case "help":
		printUsage()
		return
	}

	// Create migrator
	migrator, err := database.NewMigrator(cfg)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch command {
	case "up":
		handleUp(migrator)
	case "down":
		handleDown(migrator)
	case "steps":
		handleSteps(migrator, os.Args[2:])
	case "version":
		handleVersion(migrator)
	case "force":
		handleForce(migrator, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("errwatch Database Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up           Run all available migrations")
	fmt.Println("  down         Rollback all migrations")
	fmt.Println("  steps <n>    Run n migrations up (positive) or down (negative)")
	fmt.Println("  version      Show current migration version")
	fmt.Println("  force <v>    Force set migration version without running migrations")
	fmt.Println("  maintain [d] Resolve detected minor errors and delete resolved errors older than d (default 720h)")
	fmt.Println("  seed         Insert the stock auto-fix definitions into an empty store")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  migrate up")
	fmt.Println("  migrate down")
	fmt.Println("  migrate steps 1")
	fmt.Println("  migrate steps -1")
	fmt.Println("  migrate version")
	fmt.Println("  migrate force 1")
	fmt.Println("  migrate maintain 168h")
	fmt.Println()
	fmt.Println("Migrations are read from $DB_MIGRATIONS_PATH/<driver> for the postgres and mysql drivers.")
}

func handleUp(migrator *database.Migrator) {
	fmt.Println("Running migrations...")
	if err := migrator.Up(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	fmt.Println("Migrations completed successfully")
}

func handleDown(migrator *database.Migrator) {
	fmt.Println("Rolling back migrations...")
	if err := migrator.Down(); err != nil {
		log.Fatalf("Failed to rollback migrations: %v", err)
	}
	fmt.Println("Rollback completed successfully")
}

func handleSteps(migrator *database.Migrator, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Steps command requires a number argument\n")
		os.Exit(1)
	}

	var steps int
	if _, err := fmt.Sscanf(args[0], "%d", &steps); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid steps argument: %s\n", args[0])
		os.Exit(1)
	}

	fmt.Printf("Running %d migration steps...\n", steps)
	if err := migrator.Steps(steps); err != nil {
		log.Fatalf("Failed to run migration steps: %v", err)
	}
	fmt.Println("Migration steps completed successfully")
}

func handleVersion(migrator *database.Migrator) {
	version, dirty, err := migrator.Version()
	if err != nil {
		log.Fatalf("Failed to get migration version: %v", err)
	}

	fmt.Printf("Current migration version: %d\n", version)
	if dirty {
		fmt.Println("WARNING: Database is in a dirty state")
	}
}

func handleForce(migrator *database.Migrator, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Force command requires a version argument\n")
		os.Exit(1)
	}

	var version int
	if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version argument: %s\n", args[0])
		os.Exit(1)
	}

	fmt.Printf("Forcing migration version to %d...\n", version)
	if err := migrator.Force(version); err != nil {
		log.Fatalf("Failed to force migration version: %v", err)
	}
	fmt.Println("Migration version forced successfully")
}

// openGateway opens the configured store for the housekeeping commands
func openGateway(cfg *config.Config, logger *logging.Logger) (gateway.Gateway, func()) {
	switch cfg.Store.Driver {
	case config.StorePostgres, config.StoreMySQL:
		db, err := database.New(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		return database.NewRepository(db, logger), func() { db.Close() }
	case config.StoreSupabase:
		gw, err := supabase.New(&cfg.Supabase, logger)
		if err != nil {
			log.Fatalf("Failed to create supabase client: %v", err)
		}
		return gw, func() {}
	default:
		log.Fatalf("Store driver %q has nothing to maintain", cfg.Store.Driver)
		return nil, nil
	}
}

func handleMaintain(cfg *config.Config, args []string) {
	retention := defaultRetention
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "Invalid retention argument: %s\n", args[0])
			os.Exit(1)
		}
		retention = d
	}

	gw, closeFn := openGateway(cfg, logging.GetLogger())
	defer closeFn()

	maintainer, ok := gw.(gateway.Maintainer)
	if !ok {
		log.Fatalf("Store driver %q does not support maintenance", cfg.Store.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := time.Now().UTC()
	resolved, err := maintainer.ResolveMinorErrors(ctx, now)
	if err != nil {
		log.Fatalf("Failed to resolve minor errors: %v", err)
	}
	fmt.Printf("Resolved %d minor errors\n", resolved)

	deleted, err := maintainer.CleanupResolvedErrors(ctx, now.Add(-retention))
	if err != nil {
		log.Fatalf("Failed to clean up resolved errors: %v", err)
	}
	fmt.Printf("Deleted %d resolved errors fixed before %s\n", deleted, now.Add(-retention).Format(time.RFC3339))
}

func handleSeed(cfg *config.Config) {
	gw, closeFn := openGateway(cfg, logging.GetLogger())
	defer closeFn()

	seeder, ok := gw.(gateway.Seeder)
	if !ok {
		log.Fatalf("Store driver %q does not support seeding", cfg.Store.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := seeder.EnsureAutoFixes(ctx, remediation.DefaultAutoFixes())
	if err != nil {
		log.Fatalf("Failed to seed auto-fix definitions: %v", err)
	}
	if n == 0 {
		fmt.Println("Auto-fix definitions already present")
		return
	}
	fmt.Printf("Seeded %d auto-fix definitions\n", n)
}
