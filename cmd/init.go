package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/DragonSenseiGuy/dragon-bot/dragonbot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader reads a password without echoing it. Swapped out in tests.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin API credentials",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable DB_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable DB_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := dragonbot.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		defer func() {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
		}()

		credentialsSet, err := dragonbot.AdminCredentialsSet(ctx, db)
		if err != nil {
			log.Fatalf("Error retrieving admin credentials: %v", err)
		}

		out := cmd.OutOrStdout()
		if credentialsSet {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

			reader := bufio.NewReader(os.Stdin)

			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}

			var password string
			for {
				fmt.Fprint(out, "Enter admin password: ")
				passwordBytes, _ := customPasswordReader()
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm admin password: ")
				confirmBytes, _ := customPasswordReader()
				fmt.Fprintln(out)

				if password == string(confirmBytes) {
					break
				}
				fmt.Fprintln(out, "Passwords do not match. Please try again.")
			}

			if err = dragonbot.SetAdminCredentials(ctx, db, username, password); err != nil {
				log.Fatalf("Error setting admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(initCmd)
}
