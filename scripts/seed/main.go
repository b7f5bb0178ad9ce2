// Command seed bootstraps a development database: the permission catalogue,
// default roles, the admin user and, with -demo, an editor account.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/zerodna/cms-authz/internal/app"
	"github.com/zerodna/cms-authz/internal/platform/db"
	"github.com/zerodna/cms-authz/internal/rbac"
)

func main() {
	demo := flag.Bool("demo", false, "also create the alice/editor demo account")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store := rbac.NewPGStore(pool)
	svc := rbac.NewService(store)
	mgr := rbac.NewAssignmentManager(store, nil)

	res, err := rbac.Seed(ctx, store, svc, mgr, rbac.SeedOptions{
		AdminUsername: cfg.SeedAdminUsername,
		AdminEmail:    cfg.SeedAdminEmail,
		AdminPassword: cfg.SeedAdminPassword,
	}, logger)
	if err != nil {
		logger.Error("seed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seeded", slog.Int("permissions", res.Permissions), slog.Int("roles", res.Roles), slog.Int64("admin_id", res.AdminID))

	if *demo {
		if err := seedDemo(ctx, store, svc, mgr, res.AdminID); err != nil {
			logger.Error("seed demo", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("demo account ready", slog.String("username", "alice"))
	}
}

func seedDemo(ctx context.Context, store rbac.Store, svc *rbac.Service, mgr *rbac.AssignmentManager, adminID int64) error {
	alice, ok, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		return err
	}
	if !ok {
		if alice, err = svc.CreateUser(ctx, rbac.NewUser{
			Username: "alice",
			Email:    "alice@zerodna.com",
			Password: "alice-password",
		}); err != nil {
			return err
		}
	}
	editor, ok, err := store.GetRoleByName(ctx, "editor")
	if err != nil {
		return err
	}
	if !ok {
		return rbac.ErrNotFound
	}
	_, err = mgr.AssignUserRole(ctx, rbac.UserRoleAssignment{UserID: alice.ID, RoleID: editor.ID, AssignedBy: &adminID})
	return err
}
