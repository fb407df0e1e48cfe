package storage

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"prism-board/domain"
	"prism-board/frontmatter"
	"prism-board/github"
)

// readConcurrency bounds parallel file reads while loading boards.
const readConcurrency = 8

// LoadBoard reads a board at the current head.
func (s *Store) LoadBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if !domain.ValidID(boardID) {
		return domain.BoardSnapshot{}, &domain.ValidationError{Field: "boardId", Reason: fmt.Sprintf("%q is not a board id", boardID)}
	}
	head, err := s.repo.ReadHead(ctx)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	return s.LoadBoardAt(ctx, boardID, head)
}

// LoadBoardAt reads a board and all of its cards as of version.
func (s *Store) LoadBoardAt(ctx context.Context, boardID, version string) (domain.BoardSnapshot, error) {
	meta, err := s.repo.ReadFileAt(ctx, s.layout.MetaPath(boardID), version)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	if meta == nil {
		return domain.BoardSnapshot{}, fmt.Errorf("board %s: %w", boardID, domain.ErrBoardNotFound)
	}
	board, err := frontmatter.ParseBoardMeta(meta.Content)
	if err != nil {
		return domain.BoardSnapshot{}, fmt.Errorf("parse %s: %w", meta.Path, err)
	}

	entries, err := s.repo.ReadDirectoryAt(ctx, s.layout.BoardDir(boardID), version)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}
	type cardFile struct {
		id, path string
	}
	var files []cardFile
	for _, e := range entries {
		if id, ok := frontmatter.CardID(e.Name); ok && e.Kind == github.KindFile {
			files = append(files, cardFile{id: id, path: e.Path})
		}
	}

	type loaded struct {
		card   domain.Card
		column string
	}
	cards := make([]loaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, cf := range files {
		p := cf.path
		g.Go(func() error {
			f, err := s.repo.ReadFileAt(gctx, p, version)
			if err != nil {
				return err
			}
			if f == nil {
				return fmt.Errorf("card %s vanished at %s", p, version)
			}
			card, column, err := frontmatter.ParseCard(f.Content)
			if err != nil {
				return fmt.Errorf("parse %s: %w", p, err)
			}
			// the file name decides which document a later save rewrites
			if card.ID != cf.id {
				s.log.WithFields(log.Fields{"board": boardID, "card": cf.id, "declared": card.ID}).Warn("board.card.id_mismatch")
				card.ID = cf.id
			}
			cards[i] = loaded{card: card, column: column}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BoardSnapshot{}, err
	}

	index := make(map[string]int, len(board.Columns))
	for i, col := range board.Columns {
		index[col.ID] = i
	}
	for _, c := range cards {
		i, ok := index[c.column]
		if !ok {
			if len(board.Columns) == 0 {
				s.log.WithFields(log.Fields{"board": boardID, "card": c.card.ID}).Warn("board.card.dropped")
				continue
			}
			s.log.WithFields(log.Fields{"board": boardID, "card": c.card.ID, "column": c.column}).Warn("board.card.unknown_column")
			i = 0
		}
		board.Columns[i].Cards = append(board.Columns[i].Cards, c.card)
	}
	for i := range board.Columns {
		sortCards(board.Columns[i].Cards)
	}
	return domain.BoardSnapshot{Board: board, Version: version}, nil
}

func sortCards(cards []domain.Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID < cards[j].ID
	})
}

// ListBoards lists the boards present at the current head.
func (s *Store) ListBoards(ctx context.Context) (domain.BoardList, error) {
	head, err := s.repo.ReadHead(ctx)
	if err != nil {
		return domain.BoardList{}, err
	}
	return s.ListBoardsAt(ctx, head)
}

// ListBoardsAt lists every directory under the root that holds a board
// metadata document at version.
func (s *Store) ListBoardsAt(ctx context.Context, version string) (domain.BoardList, error) {
	entries, err := s.repo.ReadDirectoryAt(ctx, s.layout.Root, version)
	if err != nil {
		return domain.BoardList{}, err
	}
	var ids []string
	for _, e := range entries {
		if e.Kind == github.KindDir && domain.ValidID(e.Name) {
			ids = append(ids, e.Name)
		}
	}

	found := make([]*domain.BoardSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			f, err := s.repo.ReadFileAt(gctx, s.layout.MetaPath(id), version)
			if err != nil || f == nil {
				return err
			}
			b, err := frontmatter.ParseBoardMeta(f.Content)
			if err != nil {
				s.log.WithFields(log.Fields{"board": id, "path": f.Path}).WithError(err).Warn("board.meta.unreadable")
				return nil
			}
			found[i] = &domain.BoardSummary{ID: id, Title: b.Title, UpdatedAt: b.UpdatedAt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BoardList{}, err
	}

	list := domain.BoardList{Boards: []domain.BoardSummary{}, Version: version}
	for _, b := range found {
		if b != nil {
			list.Boards = append(list.Boards, *b)
		}
	}
	sort.Slice(list.Boards, func(i, j int) bool { return list.Boards[i].ID < list.Boards[j].ID })
	return list, nil
}
