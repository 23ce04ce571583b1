package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jamiemulcahy/yart/client"
	"github.com/jamiemulcahy/yart/domain"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgCyan, color.Bold)
	hiddenColor  = color.New(color.FgHiRed)
	draftColor   = color.New(color.FgYellow)
)

// renderBoard prints the view column by column. Cards arrive sorted by
// creation time.
func renderBoard(w io.Writer, view domain.View) {
	if view.Meta == nil {
		warnColor.Fprintln(w, "room not found")
		return
	}
	role := "participant"
	if view.IsAdmin {
		role = "admin"
	}
	headerColor.Fprintf(w, "%s  [%s]  %s\n", view.Meta.ID, view.Meta.Template, role)

	for _, col := range view.Columns {
		fmt.Fprintln(w)
		headerColor.Fprintf(w, "%d. %s", col.Position+1, col.Name)
		if col.Description != "" {
			fmt.Fprintf(w, "  %s", col.Description)
		}
		fmt.Fprintf(w, "  (%s)\n", col.ID)
		for _, card := range view.Cards {
			if card.ColumnID != col.ID {
				continue
			}
			switch {
			case card.IsPublished:
				fmt.Fprintf(w, "   • %s\n", card.Text)
			case card.Text == "":
				hiddenColor.Fprintf(w, "   • (hidden)  %s\n", card.ID)
			default:
				draftColor.Fprintf(w, "   • %s  [draft %s]\n", card.Text, card.ID)
			}
		}
	}
}

func renderStatus(w io.Writer, status client.Status) {
	switch status {
	case client.StatusConnected:
		successColor.Fprintf(w, "● %s\n", status)
	case client.StatusError:
		errorColor.Fprintf(w, "● %s\n", status)
	default:
		warnColor.Fprintf(w, "● %s\n", status)
	}
}
