package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/zerodna/cms-authz/internal/rbac"
)

// Seeder runs the bootstrap; rbac.Seed bound to its dependencies satisfies it.
type Seeder func(ctx context.Context, opts rbac.SeedOptions) (rbac.SeedResult, error)

// SeedCommandOptions configures the seed command.
type SeedCommandOptions struct {
	Seed   rbac.SeedOptions
	Stdout io.Writer
	Stderr io.Writer
}

// SeedCommand creates the permission catalogue, default roles and admin user.
func SeedCommand(ctx context.Context, seed Seeder, opts SeedCommandOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	res, err := seed(ctx, opts.Seed)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "seeded %d permissions and %d roles\n", res.Permissions, res.Roles)
	if res.AdminNew {
		_, _ = fmt.Fprintf(opts.Stdout, "created admin user id=%d\n", res.AdminID)
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "admin user id=%d already present\n", res.AdminID)
	}
	return 0
}
