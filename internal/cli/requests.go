package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	requestsCmd.AddCommand(requestCreateCmd)
	requestsCmd.AddCommand(requestAcceptCmd)
	requestsCmd.AddCommand(requestRejectCmd)
	rootCmd.AddCommand(requestsCmd)
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage chat requests",
}

var requestCreateCmd = &cobra.Command{
	Use:   "create <doctor-id>",
	Short: "Ask a doctor for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		req, err := client.CreateChatRequest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Request %s sent to %s (%s)\n", req.ID, req.DoctorID, req.Status)
		return nil
	},
}

var requestAcceptCmd = &cobra.Command{
	Use:   "accept <request-id>",
	Short: "Accept a pending chat request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		if err := client.AcceptChatRequest(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Request accepted")
		return nil
	},
}

var requestRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending chat request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		if err := client.RejectChatRequest(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Request rejected")
		return nil
	},
}
