package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "forum.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	store, err := New(db, zap.NewNop())
	require.NoError(t, err)
	return store, db
}

func seedPost(t *testing.T, store *Store, id string, createdAt time.Time) forum.Post {
	t.Helper()
	post, err := store.CreatePost(context.Background(), forum.Post{
		ID:           id,
		Title:        "Switching to reusable packaging",
		Category:     "Waste",
		BusinessName: "Corner Cafe",
		Author:       "owner@cornercafe.example",
		Voters:       map[forum.VoterKey]forum.VoteDirection{},
		Comments:     []forum.Comment{},
		CreatedAt:    createdAt,
		Version:      1,
	})
	require.NoError(t, err)
	return post
}

func TestNewRequiresDatabase(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestStore_CreateAndGetPost(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	createdAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	post := seedPost(t, store, "post-1", createdAt)

	retrieved, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Switching to reusable packaging", retrieved.Title)
	assert.Equal(t, "Corner Cafe", retrieved.BusinessName)
	assert.True(t, retrieved.CreatedAt.Equal(createdAt))
	assert.Equal(t, int64(1), retrieved.Version)
	assert.Empty(t, retrieved.Voters)
	assert.Empty(t, retrieved.Comments)

	_, err = store.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, forum.ErrNotFound)
}

func TestStore_UpdatePostPersistsLedgerAndComments(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

	commentTime := time.Date(2025, 3, 2, 8, 30, 0, 0, time.UTC)
	updated, err := store.UpdatePost(ctx, post.ID, func(current forum.Post) (forum.Post, error) {
		current.Voters["alice@example_com"] = forum.VoteUp
		current.Voters["bob@example_com"] = forum.VoteDown
		current.Comments = append(current.Comments, forum.Comment{Author: "alice@example.com", Text: "Nice!", CreatedAt: commentTime})
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, int64(0), updated.Upvotes)

	_, err = store.UpdatePost(ctx, post.ID, func(current forum.Post) (forum.Post, error) {
		delete(current.Voters, "bob@example_com")
		current.Upvotes++
		current.Comments = append(current.Comments, forum.Comment{Author: "bob@example.com", Text: "Agreed", CreatedAt: commentTime.Add(time.Minute)})
		return current, nil
	})
	require.NoError(t, err)

	reloaded, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Upvotes)
	assert.Equal(t, int64(3), reloaded.Version)
	assert.Equal(t, map[forum.VoterKey]forum.VoteDirection{"alice@example_com": forum.VoteUp}, reloaded.Voters)
	require.Len(t, reloaded.Comments, 2)
	assert.Equal(t, "Nice!", reloaded.Comments[0].Text)
	assert.Equal(t, "Agreed", reloaded.Comments[1].Text)
	assert.True(t, reloaded.Comments[0].CreatedAt.Equal(commentTime))
}

func TestStore_UpdatePostRollsBackRejectedChange(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

	_, err := store.UpdatePost(ctx, post.ID, func(current forum.Post) (forum.Post, error) {
		current.Voters["carol"] = forum.VoteUp
		return current, nil
	})
	assert.ErrorIs(t, err, forum.ErrInvalidArgument)

	_, err = store.UpdatePost(ctx, post.ID, func(current forum.Post) (forum.Post, error) {
		return forum.Post{}, errors.New("mutator failed")
	})
	assert.EqualError(t, err, "mutator failed")

	reloaded, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Voters)
	assert.Equal(t, int64(0), reloaded.Upvotes)
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestStore_ListPostsNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	seedPost(t, store, "post-old", time.Unix(1700000000, 0).UTC())
	seedPost(t, store, "post-new", time.Unix(1700009000, 0).UTC())

	_, err := store.UpdatePost(ctx, "post-old", func(current forum.Post) (forum.Post, error) {
		current.Voters["erin"] = forum.VoteUp
		current.Upvotes++
		return current, nil
	})
	require.NoError(t, err)

	posts, err := store.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "post-new", posts[0].ID)
	assert.Equal(t, "post-old", posts[1].ID)
	assert.Equal(t, forum.VoteUp, posts[1].Voters["erin"])
}

func TestStore_ConcurrentVotersAreBothRecorded(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

	votes := map[forum.VoterKey]forum.VoteDirection{
		"v1": forum.VoteUp,
		"v2": forum.VoteDown,
	}
	var wg sync.WaitGroup
	for voter, direction := range votes {
		wg.Add(1)
		go func(voter forum.VoterKey, direction forum.VoteDirection) {
			defer wg.Done()
			for {
				_, err := store.UpdatePost(ctx, post.ID, func(current forum.Post) (forum.Post, error) {
					current.Voters[voter] = direction
					current.Upvotes += direction.Weight()
					return current, nil
				})
				if err == nil {
					return
				}
				if !assert.ErrorIs(t, err, forum.ErrConflict) {
					return
				}
			}
		}(voter, direction)
	}
	wg.Wait()

	reloaded, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), reloaded.Upvotes)
	assert.Equal(t, votes, reloaded.Voters)
}

func TestNormalizeVoteLedgerRemovesNullEntries(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

	up := "up"
	require.NoError(t, db.Create(&[]VoteRecord{
		{PostID: post.ID, VoterKey: "kept", Direction: &up},
		{PostID: post.ID, VoterKey: "removed", Direction: nil},
	}).Error)
	require.NoError(t, db.Model(&PostRecord{}).Where("id = ?", post.ID).Update("upvotes", 5).Error)

	removed, repaired, err := NormalizeVoteLedger(db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, int64(1), repaired)

	reloaded, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Upvotes)
	assert.Equal(t, map[forum.VoterKey]forum.VoteDirection{"kept": forum.VoteUp}, reloaded.Voters)
	assert.Equal(t, reloaded.LedgerScore(), reloaded.Upvotes)
}

// voteAfterHeaderRead commits an upvote from voter once the next posts header query returns. The
// hook waits briefly for the commit; a reader holding the database until it finishes still proceeds.
// The returned channel closes when the vote has committed.
func voteAfterHeaderRead(t *testing.T, db *gorm.DB, store *Store, postID string, voter forum.VoterKey) <-chan struct{} {
	t.Helper()
	committed := make(chan struct{})
	var armed atomic.Bool
	armed.Store(true)
	err := db.Callback().Query().After("gorm:query").Register("gormstore_test:vote_after_header", func(tx *gorm.DB) {
		if tx.Statement.Table != "posts" || !armed.CompareAndSwap(true, false) {
			return
		}
		go func() {
			defer close(committed)
			_, err := store.UpdatePost(context.Background(), postID, func(current forum.Post) (forum.Post, error) {
				current.Voters[voter] = forum.VoteUp
				current.Upvotes++
				return current, nil
			})
			assert.NoError(t, err)
		}()
		select {
		case <-committed:
		case <-time.After(200 * time.Millisecond):
		}
	})
	require.NoError(t, err)
	return committed
}

func TestStore_ReadsSeeOneCommittedState(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		store, db := newTestStore(t)
		ctx := context.Background()
		post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

		committed := voteAfterHeaderRead(t, db, store, post.ID, "alice@example_com")
		read, err := store.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, read.LedgerScore(), read.Upvotes)
		assert.Equal(t, int64(1), read.Version)

		<-committed
		reloaded, err := store.GetPost(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reloaded.Upvotes)
		assert.Equal(t, reloaded.LedgerScore(), reloaded.Upvotes)
	})

	t.Run("list", func(t *testing.T) {
		store, db := newTestStore(t)
		ctx := context.Background()
		post := seedPost(t, store, "post-1", time.Unix(1700000000, 0).UTC())

		committed := voteAfterHeaderRead(t, db, store, post.ID, "alice@example_com")
		posts, err := store.ListPosts(ctx)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, posts[0].LedgerScore(), posts[0].Upvotes)
		assert.Empty(t, posts[0].Voters)

		<-committed
		posts, err = store.ListPosts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), posts[0].Upvotes)
		assert.Equal(t, posts[0].LedgerScore(), posts[0].Upvotes)
	})
}
