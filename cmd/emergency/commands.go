package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/patric-chuzhbe/emergency/internal/app"
	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/config"
	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/storage"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "emergency",
		Short:         "Emergency response web application",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
		newCreateUserCommand(),
		&cobra.Command{
			Use:   "hash-password",
			Short: "Read a password and print its bcrypt hash",
			Args:  cobra.NoArgs,
			RunE:  runHashPassword,
		},
	)

	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.New(config.WithFlagSet(cmd.Flags()))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	application, err := app.New(app.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run()
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsServerless() {
		if err := os.MkdirAll(cfg.ServerlessDataDir, 0o755); err != nil {
			return err
		}
	}

	ctx := cmd.Context()

	store, err := storage.Open(ctx, cfg.DatabaseURI, cfg.DBConnectionTimeout)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "database schema is at version %d\n", version)
	return nil
}

type createUserFlags struct {
	name  string
	email string
	phone string
	role  string
}

func newCreateUserCommand() *cobra.Command {
	flags := &createUserFlags{}
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account of any role, including admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateUser(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "display name")
	cmd.Flags().StringVar(&flags.email, "email", "", "login email")
	cmd.Flags().StringVar(&flags.phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&flags.role, "role", string(models.RoleAdmin), "victim, responder or admin")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runCreateUser(cmd *cobra.Command, flags *createUserFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	application, err := app.New(app.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer application.Close()
	defer func() { _ = application.Shutdown() }()

	u, err := application.Service().CreateUser(cmd.Context(), models.RegisterRequest{
		Name:     flags.name,
		Email:    flags.email,
		Phone:    flags.phone,
		Password: password,
		Role:     models.Role(flags.role),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q with id %d\n", u.Role, u.Email, u.ID)
	return nil
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

// readPassword prompts on a terminal without echo and otherwise reads one
// line from the command input.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("in cmd/emergency/commands.go/readPassword(): error while `term.ReadPassword()` calling: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
