package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medilink-health/medilink-cli/internal/auth"
)

var (
	loginEmail    string
	loginPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and persist the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		token, err := client.Login(cmd.Context(), loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		store, err := tokenStore()
		if err != nil {
			return err
		}
		if err := store.Save(token); err != nil {
			return err
		}

		claims, err := auth.ParseClaims(token)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (%s)\n", claims.Username, claims.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the persisted session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := tokenStore()
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}
