package forum

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidArgument indicates a missing or malformed required field.
	ErrInvalidArgument = errors.New("forum: invalid argument")
	// ErrNotFound indicates that the referenced post does not exist.
	ErrNotFound = errors.New("forum: post not found")
	// ErrConflict indicates that an atomic update was preempted by a concurrent writer.
	ErrConflict = errors.New("forum: concurrent update conflict")
	// ErrStoreUnavailable indicates that the persistence layer could not complete the request.
	ErrStoreUnavailable = errors.New("forum: store unavailable")
)

// voterKeyReplacer maps characters that are illegal in document field paths to underscores.
var voterKeyReplacer = strings.NewReplacer(
	".", "_",
	"/", "_",
	"#", "_",
	"$", "_",
	"[", "_",
	"]", "_",
)

// PostID represents a validated post identifier.
type PostID string

// NewPostID validates raw input and returns a PostID.
func NewPostID(rawInput string) (PostID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty post id", ErrInvalidArgument)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: post id exceeds %d characters", ErrInvalidArgument, maxIdentifierLength)
	}
	return PostID(trimmed), nil
}

// String returns the underlying identifier.
func (id PostID) String() string {
	return string(id)
}

// VoterKey is a sanitized voter identity usable as a key of Post.Voters.
type VoterKey string

// NewVoterKey sanitizes a caller-supplied identity (usually an email address).
func NewVoterKey(rawIdentity string) (VoterKey, error) {
	trimmed := strings.TrimSpace(rawIdentity)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty voter key", ErrInvalidArgument)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: voter key exceeds %d characters", ErrInvalidArgument, maxIdentifierLength)
	}
	return VoterKey(voterKeyReplacer.Replace(trimmed)), nil
}

// String returns the sanitized key.
func (key VoterKey) String() string {
	return string(key)
}

// VoteDirection is the recorded vote of a single voter. The zero value means no vote.
type VoteDirection string

const (
	// VoteNone is the absence of a vote. It is never stored in Post.Voters.
	VoteNone VoteDirection = ""
	// VoteUp is an upvote.
	VoteUp VoteDirection = "up"
	// VoteDown is a downvote.
	VoteDown VoteDirection = "down"
)

// ParseVoteDirection accepts "up" or "down" in any case.
func ParseVoteDirection(rawInput string) (VoteDirection, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(VoteUp):
		return VoteUp, nil
	case string(VoteDown):
		return VoteDown, nil
	default:
		return VoteNone, fmt.Errorf("%w: unknown vote direction %q", ErrInvalidArgument, rawInput)
	}
}

// Valid reports whether the direction is a storable vote.
func (direction VoteDirection) Valid() bool {
	return direction == VoteUp || direction == VoteDown
}

// Weight returns the score contribution of the direction.
func (direction VoteDirection) Weight() int64 {
	switch direction {
	case VoteUp:
		return 1
	case VoteDown:
		return -1
	default:
		return 0
	}
}

// Comment is an immutable reply appended to a post.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is a forum thread with its vote ledger and comments.
type Post struct {
	ID           string                     `json:"id"`
	Title        string                     `json:"title"`
	Category     string                     `json:"category"`
	BusinessName string                     `json:"businessName"`
	Author       string                     `json:"author"`
	Upvotes      int64                      `json:"upvotes"`
	Voters       map[VoterKey]VoteDirection `json:"voters"`
	Comments     []Comment                  `json:"comments"`
	CreatedAt    time.Time                  `json:"createdAt"`
	Version      int64                      `json:"version"`
}

// Clone returns a deep copy so mutators never share maps or slices with stored state.
func (post Post) Clone() Post {
	cloned := post
	cloned.Voters = make(map[VoterKey]VoteDirection, len(post.Voters))
	for key, direction := range post.Voters {
		cloned.Voters[key] = direction
	}
	cloned.Comments = make([]Comment, len(post.Comments))
	copy(cloned.Comments, post.Comments)
	return cloned
}

// VoteOf returns the recorded vote of the voter, or VoteNone.
func (post Post) VoteOf(key VoterKey) VoteDirection {
	direction, ok := post.Voters[key]
	if !ok || !direction.Valid() {
		return VoteNone
	}
	return direction
}

// LedgerScore recomputes the score from the per-voter ledger.
func (post Post) LedgerScore() int64 {
	var score int64
	for _, direction := range post.Voters {
		score += direction.Weight()
	}
	return score
}

// PostDraft carries the caller-supplied fields of a new post.
type PostDraft struct {
	Title        string
	Category     string
	BusinessName string
	Author       string
}

// PostView is a post as seen by one viewer.
type PostView struct {
	Post         Post          `json:"post"`
	VoteStatus   VoteDirection `json:"voteStatus"`
	CommentCount int           `json:"commentCount"`
}

// NewPostView projects the viewer's vote status onto the post.
func NewPostView(post Post, viewer VoterKey) PostView {
	status := VoteNone
	if viewer != "" {
		status = post.VoteOf(viewer)
	}
	return PostView{
		Post:         post,
		VoteStatus:   status,
		CommentCount: len(post.Comments),
	}
}
