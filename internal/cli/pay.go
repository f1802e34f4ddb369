package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	payDoctor string
	payAmount int64
)

func init() {
	payCmd.Flags().StringVar(&payDoctor, "doctor", "", "doctor to pay")
	payCmd.Flags().Int64Var(&payAmount, "amount", 0, "amount in the smallest currency unit")
	_ = payCmd.MarkFlagRequired("doctor")
	_ = payCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(payCmd)
}

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Pay for a conversation with a doctor",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient()
		if err != nil {
			return err
		}
		payment, err := client.CreatePayment(cmd.Context(), payDoctor, payAmount)
		if err != nil {
			return err
		}
		fmt.Printf("Payment %s created (%s)\n", payment.ID, payment.Status)
		if payment.PayURL != "" {
			fmt.Printf("Complete it at: %s\n", payment.PayURL)
		}
		fmt.Printf("Then reopen the chat: medilink chat --with %s --from-payment\n", payDoctor)
		return nil
	},
}
