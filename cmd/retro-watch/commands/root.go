package commands

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	roomID     string
	adminToken string
	identity   string
)

var rootCmd = &cobra.Command{
	Use:   "retro-watch",
	Short: "Terminal client for YART retrospective boards",
	Long: `retro-watch creates YART rooms, follows a board live from the terminal and
sends one-off commands to a room.

Examples:
  # Create a room from a template
  retro-watch create --template start-stop-continue

  # Follow a board as admin
  retro-watch watch --room <id> --token <admin-token>

  # Add a card
  retro-watch add-card --room <id> --column <column-id> --text "Deploys were smooth"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
	defaultServer := os.Getenv("YART_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "YART API base URL")
	rootCmd.SilenceErrors = true
}

func addRoomFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&roomID, "room", "r", "", "Room id")
	cmd.Flags().StringVarP(&adminToken, "token", "t", "", "Admin token (omit to join as participant)")
	cmd.Flags().StringVar(&identity, "identity", "", "Identity token from an earlier session")
	_ = cmd.MarkFlagRequired("room")
}
