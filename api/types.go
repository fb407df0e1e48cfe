package api

import (
	"context"

	"prism-board/domain"
)

// Boards is the board service the handlers drive. Both storage.Store and
// storage.Cache satisfy it.
type Boards interface {
	ListBoards(ctx context.Context) (domain.BoardList, error)
	LoadBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
	CreateBoard(ctx context.Context, req domain.CreateBoardRequest) domain.Result
	SaveBoard(ctx context.Context, req domain.SaveBoardRequest) domain.Result
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Idempotency remembers the result of a mutating request so a client retrying
// with the same Idempotency-Key gets the original answer.
type Idempotency interface {
	// Begin claims key within scope. When an earlier request already
	// completed, its result is returned with replay set.
	Begin(ctx context.Context, scope, key string) (prior domain.Result, replay bool, err error)
	// Finish records the result of a claimed request.
	Finish(ctx context.Context, scope, key string, res domain.Result) error
}
