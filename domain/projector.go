package domain

// Project builds the view of state a single viewer is allowed to see.
//
// A card is included when it is published, the viewer is admin, or the viewer
// wrote it. Its text is blanked when it is unpublished and the viewer did not
// write it, admin or not: admins see that pending cards exist, never what they say.
func Project(state RoomState, isAdmin bool, viewerAuthorID string) View {
	view := View{
		Columns: make([]Column, len(state.Columns)),
		Cards:   make([]Card, 0, len(state.Cards)),
		IsAdmin: isAdmin,
	}
	if state.Meta != nil {
		meta := state.Meta.Public()
		view.Meta = &meta
	}
	copy(view.Columns, state.Columns)

	for _, card := range state.Cards {
		own := viewerAuthorID != "" && card.AuthorID == viewerAuthorID
		if !card.IsPublished && !isAdmin && !own {
			continue
		}
		if !card.IsPublished && !own {
			card.Text = ""
		}
		view.Cards = append(view.Cards, card)
	}
	return view
}
