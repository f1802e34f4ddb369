package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(unreadCmd)
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show how many messages are waiting for you",
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, _, err := identity()
		if err != nil {
			return err
		}
		client, err := apiClient()
		if err != nil {
			return err
		}
		count, err := client.Unread(cmd.Context(), claims.UserID)
		if err != nil {
			return err
		}
		switch count {
		case 0:
			fmt.Println("No unread messages")
		case 1:
			fmt.Println("1 unread message")
		default:
			fmt.Printf("%d unread messages\n", count)
		}
		return nil
	},
}
