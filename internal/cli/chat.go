package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/medilink-health/medilink-cli/internal/domain"
	"github.com/medilink-health/medilink-cli/internal/realtime"
	"github.com/medilink-health/medilink-cli/internal/session"
	"github.com/medilink-health/medilink-cli/internal/tui"
)

var (
	chatWith        string
	chatFromPayment bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatWith, "with", "w", "", "user id of the other party")
	chatCmd.Flags().BoolVar(&chatFromPayment, "from-payment", false,
		"hint that a payment was just completed (enables the delayed send retry)")
	_ = chatCmd.MarkFlagRequired("with")

	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open a realtime conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, bearer, err := identity()
		if err != nil {
			return err
		}
		api, err := apiClient()
		if err != nil {
			return err
		}

		// The correspondent's kind is decided here, once, from our own
		// role: doctors talk to patients and vice versa.
		correspondent := domain.Doctor(chatWith)
		if claims.Role == "DOCTOR" {
			correspondent = domain.Patient(chatWith)
		}

		rt := realtime.NewStompClient(cfg, bearer, logger)
		ctrl := session.New(api, rt, session.Options{
			SelfID:        claims.UserID,
			Correspondent: correspondent,
			FromPayment:   chatFromPayment,
			RetryDelay:    cfg.PaymentRetryDelay,
			MaxImageBytes: cfg.MaxImageBytes,
			MaxImageEdge:  cfg.MaxImageEdge,
			JPEGQuality:   cfg.ImageJPEGQuality,
			Logger:        logger,
		})
		if err := ctrl.Open(cmd.Context()); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
		defer ctrl.Close()

		program := tea.NewProgram(
			tui.NewModel(ctrl, claims.UserID, chatWith),
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
		)
		_, err = program.Run()
		return err
	},
}
