// Command useradmin enables or disables an account from the operator shell.
//
//	useradmin -user 42 -disable
//	useradmin -user 42 -enable
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tinyagent/internal/app"
	"tinyagent/internal/bootstrap"
	"tinyagent/internal/config"
	"tinyagent/internal/model"
	"tinyagent/internal/pkg/password"
	"tinyagent/internal/platform/database"
	"tinyagent/internal/repository"
)

func main() {
	userID := flag.Uint("user", 0, "user id")
	disable := flag.Bool("disable", false, "disable the account")
	enable := flag.Bool("enable", false, "enable the account")
	flag.Parse()

	if *userID == 0 || *disable == *enable {
		fmt.Fprintln(os.Stderr, "usage: useradmin -user <id> (-enable | -disable)")
		os.Exit(2)
	}
	status := model.UserStatusEnabled
	if *disable {
		status = model.UserStatusDisabled
	}

	if err := run(uint(*userID), status); err != nil {
		fmt.Fprintf(os.Stderr, "useradmin: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("user %d status set to %d\n", *userID, status)
}

func run(userID uint, status int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	if err := database.Migrate(db); err != nil {
		return err
	}

	auth := app.NewAuthService(
		repository.NewUserRepository(db),
		password.NewBcryptHasher(cfg.Auth.BcryptCost),
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)
	return auth.SetUserStatus(ctx, userID, status)
}
