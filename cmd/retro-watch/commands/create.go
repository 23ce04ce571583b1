package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/jamiemulcahy/yart/room"
)

var createTemplate string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room",
	Long: `Create a room from a column template and print its id and admin token.

Built-in templates: mad-sad-glad, start-stop-continue, liked-learned-lacked, blank.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		created, err := createRoom(cmd.Context(), http.DefaultClient, serverURL, createTemplate)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		successColor.Fprintf(out, "✓ room created\n")
		fmt.Fprintf(out, "  room:  %s\n", created.RoomID)
		fmt.Fprintf(out, "  token: %s\n", created.AdminToken)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createTemplate, "template", "", "Column template (server default when omitted)")
	rootCmd.AddCommand(createCmd)
}

func createRoom(ctx context.Context, client *http.Client, base, template string) (room.Created, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := sonic.Marshal(map[string]string{"template": template})
	if err != nil {
		return room.Created{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return room.Created{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return room.Created{}, fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return room.Created{}, err
	}
	if resp.StatusCode != http.StatusCreated {
		return room.Created{}, fmt.Errorf("create room: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	var created room.Created
	if err := sonic.Unmarshal(payload, &created); err != nil {
		return room.Created{}, fmt.Errorf("decode response: %w", err)
	}
	return created, nil
}
