/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signlearn/apiserver/config"
	"github.com/signlearn/apiserver/internal/auth"
	"github.com/signlearn/apiserver/internal/server"
	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	newUserUsername  string
	newUserEmail     string
	newUserRole      string
	newUserFirstName string
	newUserLastName  string
)

// userCmd groups account administration commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account, prompting for the password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !types.Role(newUserRole).Valid() {
			return fmt.Errorf("unknown role %q", newUserRole)
		}
		password, err := promptPassword(cmd.ErrOrStderr(), "Password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword(cmd.ErrOrStderr(), "Confirm password: ")
		if err != nil {
			return err
		}

		return withUserServices(cmd.Context(), func(ctx context.Context, a *services.AuthService, u *services.UserService, _ services.UserRepository) error {
			result, err := a.Register(ctx, services.RegisterInput{
				Username:        newUserUsername,
				Email:           newUserEmail,
				Password:        password,
				ConfirmPassword: confirm,
				FirstName:       newUserFirstName,
				LastName:        newUserLastName,
			})
			if err != nil {
				return err
			}
			if role := types.Role(newUserRole); role != types.RoleUser {
				if err := u.SetRole(ctx, result.User.ID, role); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", result.User.Username, result.User.ID)
			return nil
		})
	},
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role <email> <role>",
	Short: "Change an account's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, args[0], func(ctx context.Context, u *services.UserService, id string) error {
			return u.SetRole(ctx, id, types.Role(args[1]))
		})
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account and revoke its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, args[0], func(ctx context.Context, u *services.UserService, id string) error {
			return u.SetActive(ctx, id, false)
		})
	},
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccount(cmd, args[0], func(ctx context.Context, u *services.UserService, id string) error {
			return u.SetActive(ctx, id, true)
		})
	},
}

type userServicesFunc func(ctx context.Context, a *services.AuthService, u *services.UserService, repo services.UserRepository) error

func withUserServices(ctx context.Context, fn userServicesFunc) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Database.Driver == config.DriverMemory {
		return errors.New("user commands need a persistent DB_DRIVER")
	}

	repo, closeRepo, err := server.OpenUserRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo(context.Background()) }()

	tokens := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshSecret: cfg.Auth.RefreshSecret,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	authService := services.NewAuthService(repo, tokens, auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		services.AuthOptions{ResetTokenTTL: cfg.Auth.ResetTokenTTL}, nil, nil, logger)
	userService := services.NewUserService(repo, tokens.RefreshTTL(), logger)

	if err := fn(ctx, authService, userService, repo); err != nil {
		logger.Debug("user command failed", zap.Error(err))
		return err
	}
	return nil
}

func withAccount(cmd *cobra.Command, email string, fn func(ctx context.Context, u *services.UserService, id string) error) error {
	return withUserServices(cmd.Context(), func(ctx context.Context, _ *services.AuthService, u *services.UserService, repo services.UserRepository) error {
		user, err := repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			return fmt.Errorf("find %s: %w", email, err)
		}
		if err := fn(ctx, u, user.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", user.Username)
		return nil
	})
}

// promptPassword reads without echo from a terminal, or one line from
// piped stdin.
func promptPassword(w io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(w, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

var stdinReader = bufio.NewReader(os.Stdin)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userSetRoleCmd, userDisableCmd, userEnableCmd)

	userCreateCmd.Flags().StringVar(&newUserUsername, "username", "", "account username")
	userCreateCmd.Flags().StringVar(&newUserEmail, "email", "", "account email")
	userCreateCmd.Flags().StringVar(&newUserRole, "role", string(types.RoleUser), "user, moderator or admin")
	userCreateCmd.Flags().StringVar(&newUserFirstName, "first-name", "", "first name")
	userCreateCmd.Flags().StringVar(&newUserLastName, "last-name", "", "last name")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
}
