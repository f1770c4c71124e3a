// Package gormstore persists forum posts through GORM. Each post is split over a header row, a vote
// ledger table and an append-only comment table; UpdatePost commits all three in one transaction
// guarded by the header's version column.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryPostID       = "post_id = ?"
	queryPostIDIn     = "post_id IN ?"
	queryVersionMatch = "id = ? AND version = ?"
	queryVoteEntry    = "post_id = ? AND voter_key = ?"
	orderNewestFirst  = "created_at_ms DESC, id ASC"
	orderPosition     = "post_id ASC, position ASC"
	dialectPostgres   = "postgres"
)

var (
	errMissingDatabase = errors.New("gormstore: database handle is required")
	noOpLogger         = zap.NewNop()
)

// Store implements forum.Store on top of a gorm connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps an opened and migrated database handle.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) CreatePost(ctx context.Context, post forum.Post) (forum.Post, error) {
	if post.ID == "" {
		return forum.Post{}, fmt.Errorf("%w: empty post id", forum.ErrInvalidArgument)
	}
	if post.Version <= 0 {
		post.Version = 1
	}

	var created forum.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := newPostRecord(post)
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		votes := make([]VoteRecord, 0, len(post.Voters))
		for voter, direction := range post.Voters {
			if !direction.Valid() {
				return fmt.Errorf("%w: voter %s has invalid vote %q", forum.ErrInvalidArgument, voter, direction)
			}
			votes = append(votes, newVoteRecord(post.ID, voter, direction))
		}
		if len(votes) > 0 {
			if err := tx.Create(&votes).Error; err != nil {
				return err
			}
		}
		comments := make([]CommentRecord, 0, len(post.Comments))
		for position, comment := range post.Comments {
			comments = append(comments, newCommentRecord(post.ID, position, comment))
		}
		if len(comments) > 0 {
			if err := tx.Create(&comments).Error; err != nil {
				return err
			}
		}
		created = assemblePost(record, votes, comments)
		return nil
	})
	if err != nil {
		return forum.Post{}, err
	}
	return created, nil
}

func (s *Store) GetPost(ctx context.Context, postID string) (forum.Post, error) {
	var post forum.Post
	err := s.readSnapshot(ctx, func(tx *gorm.DB) error {
		loaded, err := loadPost(tx, postID)
		post = loaded
		return err
	})
	if err != nil {
		return forum.Post{}, err
	}
	return post, nil
}

// ListPosts returns all posts, newest first.
func (s *Store) ListPosts(ctx context.Context) ([]forum.Post, error) {
	var posts []forum.Post
	err := s.readSnapshot(ctx, func(tx *gorm.DB) error {
		loaded, err := listPosts(tx)
		posts = loaded
		return err
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// readSnapshot runs read inside one transaction so the header, ledger and comment queries observe
// the same committed state. Postgres needs repeatable read for that; sqlite transactions already
// read from a single snapshot.
func (s *Store) readSnapshot(ctx context.Context, read func(tx *gorm.DB) error) error {
	var options []*sql.TxOptions
	if s.db.Dialector.Name() == dialectPostgres {
		options = append(options, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.db.WithContext(ctx).Transaction(read, options...)
}

func listPosts(db *gorm.DB) ([]forum.Post, error) {
	var records []PostRecord
	if err := db.Order(orderNewestFirst).Find(&records).Error; err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []forum.Post{}, nil
	}

	postIDs := make([]string, 0, len(records))
	for _, record := range records {
		postIDs = append(postIDs, record.ID)
	}

	var votes []VoteRecord
	if err := db.Where(queryPostIDIn, postIDs).Find(&votes).Error; err != nil {
		return nil, err
	}
	var comments []CommentRecord
	if err := db.Where(queryPostIDIn, postIDs).Order(orderPosition).Find(&comments).Error; err != nil {
		return nil, err
	}

	votesByPost := make(map[string][]VoteRecord, len(records))
	for _, vote := range votes {
		votesByPost[vote.PostID] = append(votesByPost[vote.PostID], vote)
	}
	commentsByPost := make(map[string][]CommentRecord, len(records))
	for _, comment := range comments {
		commentsByPost[comment.PostID] = append(commentsByPost[comment.PostID], comment)
	}

	posts := make([]forum.Post, 0, len(records))
	for _, record := range records {
		posts = append(posts, assemblePost(record, votesByPost[record.ID], commentsByPost[record.ID]))
	}
	return posts, nil
}

// UpdatePost applies mutate inside a transaction. The header update is conditioned on the version
// read at the start; if another writer committed first no row matches and forum.ErrConflict is
// returned with nothing written.
func (s *Store) UpdatePost(ctx context.Context, postID string, mutate forum.Mutator) (forum.Post, error) {
	var committed forum.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := loadPost(tx, postID)
		if err != nil {
			return err
		}

		proposed, err := mutate(stored.Clone())
		if err != nil {
			return err
		}
		next, err := forum.CheckedUpdate(stored, proposed)
		if err != nil {
			return err
		}

		result := tx.Model(&PostRecord{}).
			Where(queryVersionMatch, postID, stored.Version).
			Updates(map[string]any{
				"upvotes": next.Upvotes,
				"version": next.Version,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: post %s moved past version %d", forum.ErrConflict, postID, stored.Version)
		}

		if err := syncVoters(tx, postID, stored, next); err != nil {
			return err
		}
		for position := len(stored.Comments); position < len(next.Comments); position++ {
			record := newCommentRecord(postID, position, next.Comments[position])
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}

		committed = next
		return nil
	})
	if err != nil {
		if !errors.Is(err, forum.ErrConflict) && !errors.Is(err, forum.ErrNotFound) {
			s.logger.Warn("post update rolled back", zap.String("post_id", postID), zap.Error(err))
		}
		return forum.Post{}, err
	}
	return committed, nil
}

func syncVoters(tx *gorm.DB, postID string, stored, next forum.Post) error {
	for voter, direction := range next.Voters {
		if stored.VoteOf(voter) == direction {
			continue
		}
		record := newVoteRecord(postID, voter, direction)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "post_id"}, {Name: "voter_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"direction"}),
		}).Create(&record).Error
		if err != nil {
			return err
		}
	}
	for voter := range stored.Voters {
		if _, kept := next.Voters[voter]; kept {
			continue
		}
		if err := tx.Where(queryVoteEntry, postID, voter.String()).Delete(&VoteRecord{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func loadPost(db *gorm.DB, postID string) (forum.Post, error) {
	var record PostRecord
	err := db.Where("id = ?", postID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return forum.Post{}, fmt.Errorf("%w: %s", forum.ErrNotFound, postID)
	}
	if err != nil {
		return forum.Post{}, err
	}

	var votes []VoteRecord
	if err := db.Where(queryPostID, postID).Find(&votes).Error; err != nil {
		return forum.Post{}, err
	}
	var comments []CommentRecord
	if err := db.Where(queryPostID, postID).Order(orderPosition).Find(&comments).Error; err != nil {
		return forum.Post{}, err
	}
	return assemblePost(record, votes, comments), nil
}
