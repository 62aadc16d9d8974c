package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/ordering"
)

// UpdateBoard changes the board title or color. On failure the previous
// values are restored.
func (c *Coordinator) UpdateBoard(ctx context.Context, patch domain.BoardPatch) (domain.Board, error) {
	if patch.Title == nil && patch.Color == nil {
		return domain.Board{}, &domain.ValidationError{Field: "board", Reason: "no fields to update"}
	}
	if patch.Title != nil {
		title, err := domain.RequireText("title", *patch.Title)
		if err != nil {
			return domain.Board{}, err
		}
		patch.Title = &title
	}
	if patch.Color != nil {
		color, err := domain.RequireText("bg_color", *patch.Color)
		if err != nil {
			return domain.Board{}, err
		}
		patch.Color = &color
	}
	before := c.store.Board()
	c.store.patchBoard(func(b *domain.Board) { applyBoardPatch(b, patch) })

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	updated, err := c.gw.UpdateBoard(cctx, c.boardID, patch)
	if err != nil {
		c.store.patchBoard(func(b *domain.Board) {
			b.Title = before.Title
			b.Color = before.Color
		})
		return domain.Board{}, c.fail(ctx, "update-board", log.Fields{}, err)
	}
	c.store.patchBoard(func(b *domain.Board) {
		b.Title = updated.Title
		b.Color = updated.Color
	})
	c.publish(ctx, domain.BoardUpdated, c.boardID)
	return c.store.Board(), nil
}

func applyBoardPatch(b *domain.Board, patch domain.BoardPatch) {
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Color != nil {
		b.Color = *patch.Color
	}
}

// CreateList appends a list with a provisional identity and the next free
// position, then swaps in the list the gateway created. On failure the
// provisional list is removed.
func (c *Coordinator) CreateList(ctx context.Context, title, createdBy string) (domain.List, error) {
	title, err := domain.RequireText("title", title)
	if err != nil {
		return domain.List{}, err
	}
	provisional, err := c.store.addList(domain.List{
		ID:        c.store.nextProvisionalID(),
		Title:     title,
		BoardID:   c.boardID,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
		Cards:     []domain.Card{},
	})
	if err != nil {
		return domain.List{}, err
	}

	pos := provisional.Position
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	created, err := c.gw.CreateList(cctx, domain.NewList{Title: title, BoardID: c.boardID, Position: &pos, CreatedBy: createdBy})
	if err != nil {
		if _, rerr := c.store.removeList(provisional.ID); rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.List{}, c.fail(ctx, "create-list", log.Fields{"title": title}, err)
	}
	installed, err := c.store.swapList(provisional.ID, created)
	if err != nil {
		c.resync(ctx, err)
		return created, nil
	}
	if installed.Position != created.Position {
		// moved while the create was in flight
		_ = c.persistLists(ctx, []domain.ListPosition{{ID: installed.ID, Position: installed.Position}})
	}
	c.publish(ctx, domain.ListCreated, installed.ID)
	return installed, nil
}

// RenameList changes a list title. On failure the previous title is
// restored.
func (c *Coordinator) RenameList(ctx context.Context, id int64, title string) (domain.List, error) {
	title, err := domain.RequireText("title", title)
	if err != nil {
		return domain.List{}, err
	}
	if err := requirePersisted("list", id); err != nil {
		return domain.List{}, err
	}
	before, ok := c.store.List(id)
	if !ok {
		return domain.List{}, domain.ErrNotFound
	}
	if err := c.store.patchList(id, func(l *domain.List) { l.Title = title }); err != nil {
		return domain.List{}, err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	updated, err := c.gw.UpdateList(cctx, c.boardID, id, domain.ListPatch{Title: &title})
	if err != nil {
		if rerr := c.store.patchList(id, func(l *domain.List) { l.Title = before.Title }); rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.List{}, c.fail(ctx, "update-list", log.Fields{"list": id}, err)
	}
	_ = c.store.patchList(id, func(l *domain.List) { l.Title = updated.Title })
	c.publish(ctx, domain.ListUpdated, id)
	list, _ := c.store.List(id)
	return list, nil
}

// DeleteList removes a list and its cards once the caller confirmed it. On
// failure the list is put back at its position.
func (c *Coordinator) DeleteList(ctx context.Context, id int64, confirmer Confirmer) error {
	if err := requirePersisted("list", id); err != nil {
		return err
	}
	before, ok := c.store.List(id)
	if !ok {
		return domain.ErrNotFound
	}
	action := fmt.Sprintf("delete list %q and its %d cards", before.Title, len(before.Cards))
	if err := confirm(ctx, confirmer, action); err != nil {
		return err
	}
	removed, err := c.store.removeList(id)
	if err != nil {
		return err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.gw.DeleteList(cctx, c.boardID, id); err != nil {
		if rerr := c.store.insertList(removed); rerr != nil {
			c.resync(ctx, rerr)
		}
		return c.fail(ctx, "delete-list", log.Fields{"list": id}, err)
	}
	c.publish(ctx, domain.ListDeleted, id)
	return nil
}

// CreateCard appends a card with a provisional identity at the next free
// position of its list, then swaps in the card the gateway created. The
// Position of in is ignored. On failure the provisional card is removed.
func (c *Coordinator) CreateCard(ctx context.Context, in domain.NewCard) (domain.Card, error) {
	content, err := domain.RequireText("content", in.Content)
	if err != nil {
		return domain.Card{}, err
	}
	if err := requirePersisted("list", in.ListID); err != nil {
		return domain.Card{}, err
	}
	provisional, err := c.store.addCard(domain.Card{
		ID:          c.store.nextProvisionalID(),
		Content:     content,
		Description: strings.TrimSpace(in.Description),
		ListID:      in.ListID,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   in.CreatedBy,
	})
	if err != nil {
		return domain.Card{}, err
	}

	pos := provisional.Position
	req := domain.NewCard{
		Content:     content,
		ListID:      in.ListID,
		Description: provisional.Description,
		Position:    &pos,
		CreatedBy:   in.CreatedBy,
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	created, err := c.gw.CreateCard(cctx, c.boardID, req)
	if err != nil {
		if _, rerr := c.store.removeCard(provisional.ID); rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.Card{}, c.fail(ctx, "create-card", log.Fields{"list": in.ListID}, err)
	}
	installed, err := c.store.swapCard(provisional.ID, created)
	if err != nil {
		c.resync(ctx, err)
		return created, nil
	}
	if installed.Position != created.Position || installed.ListID != created.ListID {
		// dragged while the create was in flight
		row := domain.CardPosition{ID: installed.ID, Position: installed.Position, ListID: installed.ListID}
		_ = c.persistCards(ctx, ordering.ContainerKey(installed.ListID), []domain.CardPosition{row})
	}
	c.publish(ctx, domain.CardCreated, installed.ID)
	return installed, nil
}

// UpdateCard edits a card's content or description. Position and parent
// only change through MoveCard and SendCard. On failure the previous values
// are restored.
func (c *Coordinator) UpdateCard(ctx context.Context, id int64, patch domain.CardPatch) (domain.Card, error) {
	if patch.Position != nil || patch.ListID != nil {
		return domain.Card{}, domain.Contractf("card %d: position changes go through a move", id)
	}
	if patch.Content == nil && patch.Description == nil {
		return domain.Card{}, &domain.ValidationError{Field: "card", Reason: "no fields to update"}
	}
	if patch.Content != nil {
		content, err := domain.RequireText("content", *patch.Content)
		if err != nil {
			return domain.Card{}, err
		}
		patch.Content = &content
	}
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		patch.Description = &desc
	}
	if err := requirePersisted("card", id); err != nil {
		return domain.Card{}, err
	}
	before, ok := c.store.Card(id)
	if !ok {
		return domain.Card{}, domain.ErrNotFound
	}
	if err := c.store.patchCard(id, func(card *domain.Card) { applyCardPatch(card, patch) }); err != nil {
		return domain.Card{}, err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	updated, err := c.gw.UpdateCard(cctx, c.boardID, id, patch)
	if err != nil {
		rerr := c.store.patchCard(id, func(card *domain.Card) {
			card.Content = before.Content
			card.Description = before.Description
		})
		if rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.Card{}, c.fail(ctx, "update-card", log.Fields{"card": id}, err)
	}
	_ = c.store.patchCard(id, func(card *domain.Card) {
		card.Content = updated.Content
		card.Description = updated.Description
	})
	c.publish(ctx, domain.CardUpdated, id)
	card, _ := c.store.Card(id)
	return card, nil
}

func applyCardPatch(card *domain.Card, patch domain.CardPatch) {
	if patch.Content != nil {
		card.Content = *patch.Content
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
}

// SendCard moves a card to the end of another list through the gateway's
// single-card move. Neither list is renumbered. On failure the card is put
// back where it was.
func (c *Coordinator) SendCard(ctx context.Context, id, listID int64) (domain.Card, error) {
	if err := requirePersisted("card", id); err != nil {
		return domain.Card{}, err
	}
	if err := requirePersisted("list", listID); err != nil {
		return domain.Card{}, err
	}
	before, after, err := c.store.sendCard(id, listID)
	if err != nil {
		return domain.Card{}, err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	moved, err := c.gw.MoveCard(cctx, c.boardID, id, listID, after.Position)
	if err != nil {
		if rerr := c.store.putBackCard(before); rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.Card{}, c.fail(ctx, "move-card", log.Fields{"card": id, "list": listID}, err)
	}
	c.publish(ctx, domain.CardUpdated, moved.ID)
	card, _ := c.store.Card(id)
	return card, nil
}

// DeleteCard removes a card once the caller confirmed it. On failure the
// card is put back at its position.
func (c *Coordinator) DeleteCard(ctx context.Context, id int64, confirmer Confirmer) error {
	if err := requirePersisted("card", id); err != nil {
		return err
	}
	before, ok := c.store.Card(id)
	if !ok {
		return domain.ErrNotFound
	}
	if err := confirm(ctx, confirmer, fmt.Sprintf("delete card %q", before.Content)); err != nil {
		return err
	}
	removed, err := c.store.removeCard(id)
	if err != nil {
		return err
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.gw.DeleteCard(cctx, c.boardID, id); err != nil {
		if rerr := c.store.insertCard(removed); rerr != nil {
			c.resync(ctx, rerr)
		}
		return c.fail(ctx, "delete-card", log.Fields{"card": id}, err)
	}
	c.publish(ctx, domain.CardDeleted, id)
	return nil
}

// LoadComments fetches a card's comments and attaches them to the card.
func (c *Coordinator) LoadComments(ctx context.Context, cardID int64) ([]domain.Comment, error) {
	if err := requirePersisted("card", cardID); err != nil {
		return nil, err
	}
	if _, ok := c.store.Card(cardID); !ok {
		return nil, domain.ErrNotFound
	}
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	comments, err := c.gw.ListComments(cctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("load comments of card %d: %w", cardID, err)
	}
	if comments == nil {
		comments = []domain.Comment{}
	}
	err = c.store.patchCard(cardID, func(card *domain.Card) {
		card.Comments = append([]domain.Comment(nil), comments...)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return comments, nil
}

// AddComment appends a provisional comment to the card and swaps in the
// stored one. On failure the provisional comment is removed.
func (c *Coordinator) AddComment(ctx context.Context, in domain.NewComment) (domain.Comment, error) {
	content, err := domain.RequireText("content", in.Content)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := requirePersisted("card", in.CardID); err != nil {
		return domain.Comment{}, err
	}
	provisional := domain.Comment{
		ID:        c.store.nextProvisionalID(),
		CardID:    in.CardID,
		UserID:    in.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.patchCard(in.CardID, func(card *domain.Card) {
		card.Comments = append(card.Comments, provisional)
	}); err != nil {
		return domain.Comment{}, err
	}

	in.Content = content
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	created, err := c.gw.AddComment(cctx, in)
	if err != nil {
		if rerr := c.store.patchCard(in.CardID, func(card *domain.Card) {
			card.Comments = withoutComment(card.Comments, provisional.ID)
		}); rerr != nil {
			c.resync(ctx, rerr)
		}
		return domain.Comment{}, c.fail(ctx, "add-comment", log.Fields{"card": in.CardID}, err)
	}
	_ = c.store.patchCard(in.CardID, func(card *domain.Card) {
		for i := range card.Comments {
			if card.Comments[i].ID == provisional.ID {
				card.Comments[i] = created
			}
		}
	})
	c.publish(ctx, domain.CommentAdded, created.ID)
	return created, nil
}

// DeleteComment removes a comment once the caller confirmed it. On failure
// the comment is put back at its index.
func (c *Coordinator) DeleteComment(ctx context.Context, cardID, id int64, confirmer Confirmer) error {
	if err := requirePersisted("card", cardID); err != nil {
		return err
	}
	if err := requirePersisted("comment", id); err != nil {
		return err
	}
	card, ok := c.store.Card(cardID)
	if !ok {
		return domain.ErrNotFound
	}
	if err := confirm(ctx, confirmer, "delete comment"); err != nil {
		return err
	}
	idx := -1
	for i, cm := range card.Comments {
		if cm.ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		_ = c.store.patchCard(cardID, func(cd *domain.Card) { cd.Comments = withoutComment(cd.Comments, id) })
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	if err := c.gw.DeleteComment(cctx, cardID, id); err != nil {
		if idx >= 0 {
			removed := card.Comments[idx]
			rerr := c.store.patchCard(cardID, func(cd *domain.Card) {
				at := min(idx, len(cd.Comments))
				cd.Comments = append(cd.Comments[:at], append([]domain.Comment{removed}, cd.Comments[at:]...)...)
			})
			if rerr != nil {
				c.resync(ctx, rerr)
			}
		}
		return c.fail(ctx, "delete-comment", log.Fields{"card": cardID, "comment": id}, err)
	}
	c.publish(ctx, domain.CommentDeleted, id)
	return nil
}

func withoutComment(comments []domain.Comment, id int64) []domain.Comment {
	out := comments[:0]
	for _, cm := range comments {
		if cm.ID != id {
			out = append(out, cm)
		}
	}
	return out
}
