package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
	"prism-board/frontmatter"
	"prism-board/github"
)

const (
	tracerName = "prism-board/storage"

	// createAttempts bounds the create-board retry loop.
	createAttempts = 2

	defaultTxTimeout     = 20 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

// Repository is the document store the Store commits to.
type Repository interface {
	ReadHead(ctx context.Context) (string, error)
	ReadFile(ctx context.Context, path string) (*github.File, error)
	ReadFileAt(ctx context.Context, path, ref string) (*github.File, error)
	ReadDirectoryAt(ctx context.Context, path, ref string) ([]github.Entry, error)
	CommitAtomic(ctx context.Context, upserts []github.FileUpsert, deletions []string, message, expectedParent string) (string, error)
}

// Notifier receives a notice after every successful commit.
type Notifier interface {
	Notify(ctx context.Context, n domain.ChangeNotice) error
}

// Options configures a Store. Zero values select defaults.
type Options struct {
	Root           string
	TxTimeout      time.Duration
	NotifyTimeout  time.Duration
	Notifier       Notifier
	Logger         *log.Logger
	TracerProvider trace.TracerProvider
	Now            func() time.Time
	NewID          func() string
}

// Store runs board transactions against a Repository. It keeps no state
// between requests apart from in-flight notifications.
type Store struct {
	repo          Repository
	layout        frontmatter.Layout
	txTimeout     time.Duration
	notifyTimeout time.Duration
	notifier      Notifier
	log           *log.Logger
	tracer        trace.Tracer
	now           func() time.Time
	newID         func() string

	wg sync.WaitGroup
}

// New creates a Store.
func New(repo Repository, opts Options) *Store {
	if repo == nil {
		panic("storage.New: repository is nil")
	}
	s := &Store{
		repo:          repo,
		layout:        frontmatter.Layout{Root: frontmatter.CleanRoot(opts.Root)},
		txTimeout:     opts.TxTimeout,
		notifyTimeout: opts.NotifyTimeout,
		notifier:      opts.Notifier,
		log:           opts.Logger,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if s.txTimeout <= 0 {
		s.txTimeout = defaultTxTimeout
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.log == nil {
		s.log = log.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newNoticeID
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(tracerName)
	return s
}

// Close waits for in-flight notifications.
func (s *Store) Close() {
	s.wg.Wait()
}

// Head returns the current version token.
func (s *Store) Head(ctx context.Context) (string, error) {
	return s.repo.ReadHead(ctx)
}

// SaveBoard replaces a board in one commit. A stale expected version is
// reported as a conflict and never retried.
func (s *Store) SaveBoard(ctx context.Context, req domain.SaveBoardRequest) domain.Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "board.save", trace.WithAttributes(attribute.String("board.id", req.BoardID)))
	defer span.End()

	if err := domain.ValidateSave(req); err != nil {
		return s.finish(span, req.BoardID, "save", start, failed(err))
	}
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	out := s.saveOnce(ctx, req)
	res := s.finish(span, req.BoardID, "save", start, out)
	if out.Kind == OutcomeCommitted {
		s.notify(domain.NoticeBoardSaved, req.BoardID, req.Board.Title, out.Version)
	}
	return res
}

func (s *Store) saveOnce(ctx context.Context, req domain.SaveBoardRequest) Outcome {
	meta, err := s.repo.ReadFile(ctx, s.layout.MetaPath(req.BoardID))
	if err != nil {
		return failed(err)
	}
	if meta == nil {
		return failed(fmt.Errorf("board %s: %w", req.BoardID, domain.ErrBoardNotFound))
	}

	head, err := s.repo.ReadHead(ctx)
	if err != nil {
		return failed(err)
	}
	if head != req.ExpectedVersion {
		return Outcome{Kind: OutcomeConflict, Err: domain.ErrConcurrencyConflict}
	}

	board := req.Board
	board.UpdatedAt = s.now().UTC()
	if board.CreatedAt.IsZero() {
		if current, err := frontmatter.ParseBoardMeta(meta.Content); err == nil {
			board.CreatedAt = current.CreatedAt
		} else {
			board.CreatedAt = board.UpdatedAt
		}
	}

	deletions, err := s.existingCards(ctx, req.BoardID, req.DeletedCardIDs, head)
	if err != nil {
		return failed(err)
	}
	files := frontmatter.SerializeBoard(board, req.BoardID, s.layout)
	version, err := s.repo.CommitAtomic(ctx, upserts(files), deletions, commitMessage("Update", req.BoardID, req.Author), head)
	return outcomeOf(version, err)
}

// existingCards maps deleted card ids to the paths present at version.
// Ids without a file are dropped so the tree request never names a path
// the base tree lacks.
func (s *Store) existingCards(ctx context.Context, boardID string, ids []string, version string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entries, err := s.repo.ReadDirectoryAt(ctx, s.layout.BoardDir(boardID), version)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Kind == github.KindFile {
			present[e.Path] = struct{}{}
		}
	}
	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		p := s.layout.CardPath(boardID, id)
		if _, ok := present[p]; ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// CreateBoard commits a new board with no cards. A conflicting commit is
// retried from the existence check, at most createAttempts times in total.
func (s *Store) CreateBoard(ctx context.Context, req domain.CreateBoardRequest) domain.Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "board.create", trace.WithAttributes(attribute.String("board.id", req.ID)))
	defer span.End()

	if err := domain.ValidateCreate(req); err != nil {
		return s.finish(span, req.ID, "create", start, failed(err))
	}
	columns := req.Columns
	if len(columns) == 0 {
		columns = domain.DefaultColumns()
	}
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	out := retryOnConflict(ctx, createAttempts, func(ctx context.Context, n int) Outcome {
		span.SetAttributes(attribute.Int("board.attempt", n))
		out := s.createOnce(ctx, req, columns)
		if out.Kind == OutcomeConflict {
			s.log.WithFields(log.Fields{"board": req.ID, "attempt": n}).Info("board.conflict")
		}
		return out
	})
	res := s.finish(span, req.ID, "create", start, out)
	if out.Kind == OutcomeCommitted {
		s.notify(domain.NoticeBoardCreated, req.ID, req.Title, out.Version)
	}
	return res
}

// createOnce checks absence and captures the head as two separate reads. A
// writer creating the same board in between is caught by the ref update,
// and the next attempt then sees the board.
func (s *Store) createOnce(ctx context.Context, req domain.CreateBoardRequest, columns []domain.Column) Outcome {
	meta, err := s.repo.ReadFile(ctx, s.layout.MetaPath(req.ID))
	if err != nil {
		return failed(err)
	}
	if meta != nil {
		return failed(fmt.Errorf("board %s: %w", req.ID, domain.ErrBoardExists))
	}
	head, err := s.repo.ReadHead(ctx)
	if err != nil {
		return failed(err)
	}
	now := s.now().UTC()
	board := domain.Board{
		ID:        req.ID,
		Title:     req.Title,
		Columns:   columns,
		CreatedAt: now,
		UpdatedAt: now,
	}
	files := frontmatter.SerializeBoard(board, req.ID, s.layout)
	version, err := s.repo.CommitAtomic(ctx, upserts(files), nil, commitMessage("Create", req.ID, req.Author), head)
	return outcomeOf(version, err)
}

func (s *Store) finish(span trace.Span, boardID, op string, start time.Time, out Outcome) domain.Result {
	res := out.result(boardID)
	span.SetAttributes(attribute.String("board.outcome", out.Kind.String()))
	fields := log.Fields{
		"board":    boardID,
		"op":       op,
		"outcome":  out.Kind.String(),
		"total_ms": time.Since(start).Milliseconds(),
	}
	switch out.Kind {
	case OutcomeCommitted:
		fields["version"] = out.Version
		s.log.WithFields(fields).Info("board." + op + "d")
	case OutcomeConflict:
		s.log.WithFields(fields).Info("board.conflict")
	default:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(res.Kind))
		fields["kind"] = res.Kind
		entry := s.log.WithFields(fields).WithError(out.Err)
		if res.Kind == domain.KindUpstream || res.Kind == domain.KindInternal {
			entry.Error("board." + op + ".failed")
		} else {
			entry.Info("board." + op + ".rejected")
		}
	}
	return res
}

func upserts(files []frontmatter.File) []github.FileUpsert {
	out := make([]github.FileUpsert, len(files))
	for i, f := range files {
		out[i] = github.FileUpsert{Path: f.Path, Content: f.Content}
	}
	return out
}

func commitMessage(verb, boardID, author string) string {
	msg := fmt.Sprintf("%s board %s", verb, boardID)
	if author != "" {
		msg += "\n\nRequested-by: " + author
	}
	return msg
}
