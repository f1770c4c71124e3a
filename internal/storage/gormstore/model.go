package gormstore

import (
	"time"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/forum"
)

// PostRecord is the persisted post header. Upvotes is the denormalized score of the vote ledger.
type PostRecord struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	Title           string `gorm:"column:title;type:text;not null"`
	Category        string `gorm:"column:category;size:190;not null;index"`
	BusinessName    string `gorm:"column:business_name;size:320;not null"`
	Author          string `gorm:"column:author;size:320;not null;index"`
	Upvotes         int64  `gorm:"column:upvotes;not null;default:0"`
	Version         int64  `gorm:"column:version;not null;default:1"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (PostRecord) TableName() string {
	return "posts"
}

// VoteRecord is one voter's entry in a post's vote ledger. A voter without a row has not voted.
// Direction stays nullable so legacy null entries can be loaded and normalized by migration.
type VoteRecord struct {
	PostID    string  `gorm:"column:post_id;primaryKey;size:190;not null"`
	VoterKey  string  `gorm:"column:voter_key;primaryKey;size:190;not null"`
	Direction *string `gorm:"column:direction;size:8"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "post_votes"
}

// CommentRecord stores one comment at its append position.
type CommentRecord struct {
	PostID          string `gorm:"column:post_id;primaryKey;size:190;not null"`
	Position        int    `gorm:"column:position;primaryKey;not null"`
	Author          string `gorm:"column:author;size:320;not null"`
	Text            string `gorm:"column:text;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentRecord) TableName() string {
	return "post_comments"
}

// Models lists the records the store needs migrated.
func Models() []any {
	return []any{&PostRecord{}, &VoteRecord{}, &CommentRecord{}}
}

func newPostRecord(post forum.Post) PostRecord {
	return PostRecord{
		ID:              post.ID,
		Title:           post.Title,
		Category:        post.Category,
		BusinessName:    post.BusinessName,
		Author:          post.Author,
		Upvotes:         post.Upvotes,
		Version:         post.Version,
		CreatedAtMillis: post.CreatedAt.UnixMilli(),
	}
}

func newVoteRecord(postID string, voter forum.VoterKey, direction forum.VoteDirection) VoteRecord {
	value := string(direction)
	return VoteRecord{
		PostID:    postID,
		VoterKey:  voter.String(),
		Direction: &value,
	}
}

func newCommentRecord(postID string, position int, comment forum.Comment) CommentRecord {
	return CommentRecord{
		PostID:          postID,
		Position:        position,
		Author:          comment.Author,
		Text:            comment.Text,
		CreatedAtMillis: comment.CreatedAt.UnixMilli(),
	}
}

func assemblePost(record PostRecord, votes []VoteRecord, comments []CommentRecord) forum.Post {
	post := forum.Post{
		ID:           record.ID,
		Title:        record.Title,
		Category:     record.Category,
		BusinessName: record.BusinessName,
		Author:       record.Author,
		Upvotes:      record.Upvotes,
		Voters:       make(map[forum.VoterKey]forum.VoteDirection, len(votes)),
		Comments:     make([]forum.Comment, 0, len(comments)),
		CreatedAt:    fromMillis(record.CreatedAtMillis),
		Version:      record.Version,
	}
	for _, vote := range votes {
		if vote.Direction == nil {
			continue
		}
		direction := forum.VoteDirection(*vote.Direction)
		if !direction.Valid() {
			continue
		}
		post.Voters[forum.VoterKey(vote.VoterKey)] = direction
	}
	for _, comment := range comments {
		post.Comments = append(post.Comments, forum.Comment{
			Author:    comment.Author,
			Text:      comment.Text,
			CreatedAt: fromMillis(comment.CreatedAtMillis),
		})
	}
	return post
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
