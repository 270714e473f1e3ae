package main

import (
	"fmt"
	"os"

	"medchat/backend/internal/api/handler"
	"medchat/backend/internal/config"
	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type app struct {
	cfg *config.Config
	db  *gorm.DB
	s   storage.Storage
}

// open connects lazily so `--help` works without a database.
func (a *app) open() error {
	if a.s != nil {
		return nil
	}
	cfg, _, err := config.Load()
	if err != nil {
		return err
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	a.cfg, a.db = cfg, db
	a.s = storage.NewStorageService(db, nil, nil) // No redis needed for admin CLI
	return nil
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "admin",
		Short:        "medchat administration",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		migrateCmd(a),
		addUserCmd(a),
		provisionRoomCmd(a),
		blockCmd(a, true),
		blockCmd(a, false),
		tokenCmd(a),
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the chat tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if err := storage.Migrate(a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func addUserCmd(a *app) *cobra.Command {
	var role, lang string
	cmd := &cobra.Command{
		Use:   "add-user <name>",
		Short: "Register a doctor or patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.Role(role)
			if !r.Valid() && r != models.RoleAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			if err := a.open(); err != nil {
				return err
			}
			user := &models.User{Name: args[0], Role: r, Language: lang}
			if err := a.s.SaveUser(user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s (%s) created with id %s.\n", user.Name, user.Role, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(models.RolePatient), "doctor, patient or admin")
	cmd.Flags().StringVar(&lang, "lang", "en", "notification language")
	return cmd
}

func provisionRoomCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "provision-room <doctor_id> <patient_id>",
		Short: "Create the consultation room for a doctor and patient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			room, err := a.s.GetOrCreateRoom(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room %s is ready.\n", room.RoomID)
			return nil
		},
	}
}

func blockCmd(a *app, blocked bool) *cobra.Command {
	use, short, done := "block <user_id>", "Stop a user from sending messages", "blocked"
	if !blocked {
		use, short, done = "unblock <user_id>", "Lift a block", "unblocked"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if err := a.s.SetUserBlocked(args[0], blocked); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s has been %s.\n", args[0], done)
			return nil
		},
	}
}

func tokenCmd(a *app) *cobra.Command {
	var ttl = config.TokenTTL
	cmd := &cobra.Command{
		Use:   "token <user_id>",
		Short: "Sign an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			user, err := a.s.GetUserByID(args[0])
			if err != nil {
				return err
			}
			token, err := handler.IssueToken(a.cfg.JWTSecret, user.ID, user.Role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", config.TokenTTL, "token lifetime")
	return cmd
}
