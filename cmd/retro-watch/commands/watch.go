package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamiemulcahy/yart/client"
	"github.com/jamiemulcahy/yart/domain"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a board live",
	Long: `Connect to a room and redraw the board on every update. The connection is
re-established with exponential backoff (1s up to 30s) whenever it drops.`,
	RunE: runWatch,
}

func init() {
	addRoomFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Options{
		BaseURL:    serverURL,
		RoomID:     roomID,
		AdminToken: adminToken,
		Identity:   identity,
		OnState: func(view domain.View) {
			fmt.Fprint(out, "\033[H\033[2J")
			renderBoard(out, view)
		},
		OnStatus: func(status client.Status) {
			renderStatus(out, status)
		},
	})
	if err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()

	if token := c.IdentityToken(); token != "" {
		fmt.Fprintf(out, "\nresume as the same author with --identity %s\n", token)
	}
	return c.Close()
}
