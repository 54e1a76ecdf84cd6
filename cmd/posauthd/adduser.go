package main

import (
	"errors"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/posauth/account"
	"github.com/MrEthical07/posauth/password"
	"github.com/MrEthical07/posauth/permission"
)

const passwordEnv = "POSAUTH_NEW_PASSWORD"

type addUserOptions struct {
	username string
	email    string
	role     string
}

// NewAddUserCmd creates the adduser subcommand.
func NewAddUserCmd() *cobra.Command {
	var opts addUserOptions
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create an active account",
		Long: `Create an active account. The password is read from the
` + passwordEnv + ` environment variable so it never appears in shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAddUser(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.username, "username", "", "login name")
	cmd.Flags().StringVar(&opts.email, "email", "", "recovery email address")
	cmd.Flags().StringVar(&opts.role, "role", permission.RoleStaff, "role name")
	return cmd
}

func (o addUserOptions) validate(hierarchies *permission.Hierarchies) error {
	if strings.TrimSpace(o.username) == "" {
		return oops.Code("INVALID_ARGUMENT").Errorf("--username is required")
	}
	if !strings.Contains(o.email, "@") {
		return oops.Code("INVALID_ARGUMENT").With("email", o.email).Errorf("--email must be an email address")
	}
	if !hierarchies.Known(o.role) {
		return oops.Code("INVALID_ARGUMENT").With("role", o.role).Errorf("unknown role")
	}
	return nil
}

func runAddUser(cmd *cobra.Command, opts addUserOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hierarchies, err := permission.BuildHierarchies(cfg.Auth.Hierarchies)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("section", "hierarchies").Wrap(err)
	}
	if err := opts.validate(hierarchies); err != nil {
		return err
	}
	secret := os.Getenv(passwordEnv)
	if secret == "" {
		return oops.Code("INVALID_ARGUMENT").Errorf("%s is required", passwordEnv)
	}
	if err := password.CheckStrength(secret); err != nil {
		return oops.Code("INVALID_ARGUMENT").With("field", "password").Wrap(err)
	}
	if err := requireDatabase(cfg); err != nil {
		return err
	}

	hasher, err := password.NewArgon2(cfg.Auth.Password)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("section", "password").Wrap(err)
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return oops.Code("INVALID_ARGUMENT").With("field", "password").Wrap(err)
	}

	store, closeStore, err := openStore(cmd.Context(), cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer closeStore()

	a, err := store.Create(cmd.Context(), &account.Account{
		Username:     strings.TrimSpace(opts.username),
		Email:        strings.TrimSpace(opts.email),
		PasswordHash: hash,
		Role:         opts.role,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			return oops.Code("ACCOUNT_EXISTS").With("username", opts.username).Wrap(err)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").Wrap(err)
	}

	cmd.Printf("Created %s account %s (%s)\n", a.Role, a.Username, a.ID)
	return nil
}
