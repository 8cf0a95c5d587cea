// AngelaMos | 2026
// accounts.go

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carterperez-dev/accounts-api/internal/config"
	"github.com/carterperez-dev/accounts-api/internal/core"
	"github.com/carterperez-dev/accounts-api/internal/user"
)

var (
	hashCost     int
	adminRoleArg string
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for seeding accounts",
	Long: `Prints a bcrypt hash of the given password. Without an argument the
password is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		hasher, err := core.NewPasswordHasher(hashCost, 1)
		if err != nil {
			return err
		}

		hash, err := hasher.Hash(cmd.Context(), password)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin <username> [password]",
	Short: "Create an account with an elevated role, or promote an existing one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])
		if username == "" {
			return fmt.Errorf("username: %w", core.ErrInvalidInput)
		}

		password, err := passwordArg(args[1:], cmd.InOrStdin())
		if err != nil {
			return err
		}

		role, err := core.ParseRole(adminRoleArg)
		if err != nil {
			return err
		}

		return createAccount(cmd.Context(), username, password, role, cmd.OutOrStdout())
	},
}

func init() {
	hashPasswordCmd.Flags().IntVar(
		&hashCost,
		"cost",
		core.DefaultBcryptCost,
		"bcrypt work factor",
	)
	createAdminCmd.Flags().StringVar(
		&adminRoleArg,
		"role",
		"admin",
		"role to grant (admin, moderator, user)",
	)
}

func createAccount(
	ctx context.Context,
	username, password string,
	role core.Role,
	out io.Writer,
) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	hasher, err := core.NewPasswordHasher(cfg.Security.BcryptCost, 1)
	if err != nil {
		return err
	}

	hash, err := hasher.Hash(ctx, password)
	if err != nil {
		return err
	}

	db, err := core.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeQuietly("database", db.Close)

	var (
		account *user.User
		created bool
	)
	err = db.InTx(ctx, func(tx core.DBTX) error {
		svc := user.NewService(user.NewRepository(tx), nil)
		account, created, err = svc.EnsureAccount(ctx, username, hash, role)
		return err
	})
	if err != nil {
		return err
	}

	action := "updated"
	if created {
		action = "created"
	}
	fmt.Fprintf(out, "%s account %q (id %d) with role %s\n",
		action, account.Username, account.ID, account.Role)

	return nil
}

func passwordArg(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(password) == "" {
		return "", fmt.Errorf("password: %w", core.ErrInvalidInput)
	}

	return password, nil
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Error(name+" close error", "error", err)
	}
}
