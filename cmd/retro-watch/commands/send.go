package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamiemulcahy/yart/client"
	"github.com/jamiemulcahy/yart/domain"
)

const sendTimeout = 5 * time.Second

var errNoUpdate = errors.New("no update received; the command was rejected or changed nothing")

var (
	flagColumn      string
	flagCard        string
	flagText        string
	flagName        string
	flagDescription string
	flagPosition    int
)

type sendCommand struct {
	use, short string
	flags      func(*cobra.Command)
	action     func(*client.Controller) error
}

func init() {
	commands := []sendCommand{
		{
			use: "add-card", short: "Add a card to a column",
			flags:  func(c *cobra.Command) { columnFlag(c); textFlag(c) },
			action: func(c *client.Controller) error { return c.AddCard(flagColumn, flagText) },
		},
		{
			use: "update-card", short: "Change a card's text (admin)",
			flags:  func(c *cobra.Command) { cardFlag(c); textFlag(c) },
			action: func(c *client.Controller) error { return c.UpdateCard(flagCard, flagText) },
		},
		{
			use: "delete-card", short: "Delete a card (admin)",
			flags:  cardFlag,
			action: func(c *client.Controller) error { return c.DeleteCard(flagCard) },
		},
		{
			use: "publish", short: "Publish a card (admin)",
			flags:  cardFlag,
			action: func(c *client.Controller) error { return c.PublishCard(flagCard) },
		},
		{
			use: "publish-all", short: "Publish every card in a column (admin)",
			flags:  columnFlag,
			action: func(c *client.Controller) error { return c.PublishAll(flagColumn) },
		},
		{
			use: "add-column", short: "Add a column (admin)",
			flags:  func(c *cobra.Command) { nameFlags(c) },
			action: func(c *client.Controller) error { return c.AddColumn(flagName, flagDescription) },
		},
		{
			use: "update-column", short: "Rename a column (admin)",
			flags:  func(c *cobra.Command) { columnFlag(c); nameFlags(c) },
			action: func(c *client.Controller) error { return c.UpdateColumn(flagColumn, flagName, flagDescription) },
		},
		{
			use: "delete-column", short: "Delete a column and its cards (admin)",
			flags:  columnFlag,
			action: func(c *client.Controller) error { return c.DeleteColumn(flagColumn) },
		},
		{
			use: "reorder", short: "Move a column to a zero-based position (admin)",
			flags: func(c *cobra.Command) {
				columnFlag(c)
				c.Flags().IntVar(&flagPosition, "position", 0, "Target position, counted from zero")
			},
			action: func(c *client.Controller) error { return c.ReorderColumn(flagColumn, flagPosition) },
		},
	}
	for _, sc := range commands {
		rootCmd.AddCommand(newSendCmd(sc))
	}
}

func newSendCmd(sc sendCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := sendOnce(serverURL, roomID, adminToken, identity, sc.action, sendTimeout)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✓ %s applied\n", sc.use)
			renderBoard(cmd.OutOrStdout(), view)
			return nil
		},
	}
	addRoomFlags(cmd)
	sc.flags(cmd)
	return cmd
}

// sendOnce connects, waits for the initial sync, runs action and returns the
// view from the next sync.
func sendOnce(base, room, token, ident string, action func(*client.Controller) error, timeout time.Duration) (domain.View, error) {
	views := make(chan domain.View, 8)
	c, err := client.New(client.Options{
		BaseURL:    base,
		RoomID:     room,
		AdminToken: token,
		Identity:   ident,
		OnState: func(v domain.View) {
			select {
			case views <- v:
			default:
			}
		},
	})
	if err != nil {
		return domain.View{}, err
	}
	defer c.Close()
	c.Start()

	deadline := time.After(timeout)
	select {
	case view := <-views:
		if view.Meta == nil {
			return domain.View{}, fmt.Errorf("room %s not found", room)
		}
	case <-deadline:
		return domain.View{}, fmt.Errorf("could not reach room %s", room)
	}

	if err := action(c); err != nil {
		return domain.View{}, err
	}
	select {
	case view := <-views:
		return view, nil
	case <-deadline:
		return domain.View{}, errNoUpdate
	}
}

func columnFlag(c *cobra.Command) {
	c.Flags().StringVar(&flagColumn, "column", "", "Column id")
	_ = c.MarkFlagRequired("column")
}

func cardFlag(c *cobra.Command) {
	c.Flags().StringVar(&flagCard, "card", "", "Card id")
	_ = c.MarkFlagRequired("card")
}

func textFlag(c *cobra.Command) {
	c.Flags().StringVar(&flagText, "text", "", "Card text")
	_ = c.MarkFlagRequired("text")
}

func nameFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagName, "name", "", "Column name")
	c.Flags().StringVar(&flagDescription, "description", "", "Column description")
	_ = c.MarkFlagRequired("name")
}
