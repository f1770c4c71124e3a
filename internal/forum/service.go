package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxVoteAttempts bounds internal retries of a preempted atomic update.
const DefaultMaxVoteAttempts = 3

// timestampPrecision is the finest precision every Store persists.
const timestampPrecision = time.Millisecond

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSubscriber = errors.New("event subscriber is not configured")
	noOpLogger           = zap.NewNop()
)

type ServiceConfig struct {
	Store           Store
	Clock           func() time.Time
	IDProvider      IDProvider
	Profiles        ProfileDirectory
	Publisher       EventPublisher
	Subscriber      EventSubscriber
	MaxVoteAttempts int
	Logger          *zap.Logger
}

// Service implements the forum voting, commenting and ranking operations.
type Service struct {
	store           Store
	clock           func() time.Time
	idProvider      IDProvider
	profiles        ProfileDirectory
	publisher       EventPublisher
	subscriber      EventSubscriber
	maxVoteAttempts int
	logger          *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	maxAttempts := cfg.MaxVoteAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxVoteAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:           cfg.Store,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		profiles:        cfg.Profiles,
		publisher:       cfg.Publisher,
		subscriber:      cfg.Subscriber,
		maxVoteAttempts: maxAttempts,
		logger:          logger,
	}, nil
}

// CastVote applies the voter's click to the post and returns the resulting vote state.
func (service *Service) CastVote(ctx context.Context, rawPostID, rawVoter, rawDirection string) (VoteResult, error) {
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return VoteResult{}, newServiceError(opCastVote, reasonInvalid, err)
	}
	voter, err := NewVoterKey(rawVoter)
	if err != nil {
		return VoteResult{}, newServiceError(opCastVote, reasonInvalid, err)
	}
	clicked, err := ParseVoteDirection(rawDirection)
	if err != nil {
		return VoteResult{}, newServiceError(opCastVote, reasonInvalid, err)
	}

	var result VoteResult
	updated, err := service.updateWithRetry(ctx, opCastVote, postID, func(current Post) (Post, error) {
		next := current.Clone()
		previous, state, delta, applyErr := applyVote(&next, voter, clicked)
		if applyErr != nil {
			return Post{}, applyErr
		}
		result = VoteResult{
			PostID:   postID.String(),
			Voter:    voter,
			Previous: previous,
			Current:  state,
			Delta:    delta,
		}
		return next, nil
	})
	if err != nil {
		return VoteResult{}, err
	}

	result.Post = updated
	service.loggerOrDefault().Debug("vote applied",
		zap.String("post_id", postID.String()),
		zap.String("voter", voter.String()),
		zap.String("previous", string(result.Previous)),
		zap.String("current", string(result.Current)),
		zap.Int64("delta", result.Delta))
	service.publish(ctx, EventPostVoted, updated)
	return result, nil
}

// AppendComment appends a comment stamped with the service clock.
func (service *Service) AppendComment(ctx context.Context, rawPostID, rawAuthor, rawText string) (Comment, error) {
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return Comment{}, newServiceError(opAppendComment, reasonInvalid, err)
	}
	author := strings.TrimSpace(rawAuthor)
	if author == "" {
		return Comment{}, newServiceError(opAppendComment, reasonInvalid, fmt.Errorf("%w: empty author", ErrInvalidArgument))
	}
	text := strings.TrimSpace(rawText)
	if text == "" {
		return Comment{}, newServiceError(opAppendComment, reasonInvalid, fmt.Errorf("%w: empty text", ErrInvalidArgument))
	}

	comment := Comment{
		Author:    author,
		Text:      text,
		CreatedAt: service.now(),
	}
	updated, err := service.updateWithRetry(ctx, opAppendComment, postID, func(current Post) (Post, error) {
		next := current.Clone()
		next.Comments = append(next.Comments, comment)
		return next, nil
	})
	if err != nil {
		return Comment{}, err
	}

	service.publish(ctx, EventCommentAdded, updated)
	return updated.Comments[len(updated.Comments)-1], nil
}

// CreatePost validates the draft and persists a new post with an empty ledger.
func (service *Service) CreatePost(ctx context.Context, draft PostDraft) (Post, error) {
	title := strings.TrimSpace(draft.Title)
	category := strings.TrimSpace(draft.Category)
	businessName := strings.TrimSpace(draft.BusinessName)
	author := strings.TrimSpace(draft.Author)

	switch {
	case title == "":
		return Post{}, newServiceError(opCreatePost, reasonInvalid, fmt.Errorf("%w: empty title", ErrInvalidArgument))
	case category == "":
		return Post{}, newServiceError(opCreatePost, reasonInvalid, fmt.Errorf("%w: empty category", ErrInvalidArgument))
	case author == "":
		return Post{}, newServiceError(opCreatePost, reasonInvalid, fmt.Errorf("%w: empty author", ErrInvalidArgument))
	}

	if businessName == "" && service.profiles != nil {
		profileName, err := service.profiles.BusinessName(ctx, author)
		if err != nil {
			service.logError(opCreatePost, reasonProfile, err, zap.String("author", author))
			return Post{}, newServiceError(opCreatePost, reasonProfile, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
		businessName = strings.TrimSpace(profileName)
	}
	if businessName == "" {
		return Post{}, newServiceError(opCreatePost, reasonInvalid, fmt.Errorf("%w: empty business name", ErrInvalidArgument))
	}

	postID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(opCreatePost, reasonIDFailed, err)
		return Post{}, newServiceError(opCreatePost, reasonIDFailed, err)
	}

	post := Post{
		ID:           postID,
		Title:        title,
		Category:     category,
		BusinessName: businessName,
		Author:       author,
		Upvotes:      0,
		Voters:       map[VoterKey]VoteDirection{},
		Comments:     []Comment{},
		CreatedAt:    service.now(),
		Version:      1,
	}
	created, err := service.store.CreatePost(ctx, post)
	if err != nil {
		service.logError(opCreatePost, reasonStoreError, err, zap.String("post_id", postID))
		return Post{}, newServiceError(opCreatePost, reasonStoreError, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	service.publish(ctx, EventPostCreated, created)
	return created, nil
}

// ListPosts returns every post in display order with the viewer's vote status.
// An empty viewer lists anonymously.
func (service *Service) ListPosts(ctx context.Context, rawViewer string) ([]PostView, error) {
	viewer, err := optionalViewer(rawViewer)
	if err != nil {
		return nil, newServiceError(opListPosts, reasonInvalid, err)
	}

	posts, err := service.store.ListPosts(ctx)
	if err != nil {
		service.logError(opListPosts, reasonStoreError, err)
		return nil, newServiceError(opListPosts, reasonStoreError, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}

	ranked := RankPosts(posts)
	views := make([]PostView, 0, len(ranked))
	for _, post := range ranked {
		views = append(views, NewPostView(post, viewer))
	}
	return views, nil
}

// GetPost returns a single post with the viewer's vote status.
func (service *Service) GetPost(ctx context.Context, rawPostID, rawViewer string) (PostView, error) {
	postID, err := NewPostID(rawPostID)
	if err != nil {
		return PostView{}, newServiceError(opGetPost, reasonInvalid, err)
	}
	viewer, err := optionalViewer(rawViewer)
	if err != nil {
		return PostView{}, newServiceError(opGetPost, reasonInvalid, err)
	}

	post, err := service.store.GetPost(ctx, postID.String())
	if errors.Is(err, ErrNotFound) {
		return PostView{}, newServiceError(opGetPost, reasonNotFound, err)
	}
	if err != nil {
		service.logError(opGetPost, reasonStoreError, err, zap.String("post_id", postID.String()))
		return PostView{}, newServiceError(opGetPost, reasonStoreError, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	}
	return NewPostView(post, viewer), nil
}

// Subscribe streams every committed post change as seen by the viewer.
func (service *Service) Subscribe(ctx context.Context, rawViewer string) (<-chan PostView, func(), error) {
	if service.subscriber == nil {
		return nil, nil, errMissingSubscriber
	}
	viewer, err := optionalViewer(rawViewer)
	if err != nil {
		return nil, nil, err
	}

	events, cleanup := service.subscriber.Subscribe(ctx)
	views := make(chan PostView)
	go func() {
		defer close(views)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case views <- NewPostView(event.Post, viewer):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return views, cleanup, nil
}

func (service *Service) updateWithRetry(ctx context.Context, operation string, postID PostID, mutate Mutator) (Post, error) {
	var lastConflict error
	for attempt := 1; attempt <= service.maxVoteAttempts; attempt++ {
		updated, err := service.store.UpdatePost(ctx, postID.String(), mutate)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, ErrConflict):
			lastConflict = err
			service.loggerOrDefault().Debug("atomic update preempted",
				zap.String("operation", operation),
				zap.String("post_id", postID.String()),
				zap.Int("attempt", attempt))
		case errors.Is(err, ErrNotFound):
			return Post{}, newServiceError(operation, reasonNotFound, err)
		case errors.Is(err, ErrInvalidArgument):
			return Post{}, newServiceError(operation, reasonInvalid, err)
		default:
			service.logError(operation, reasonStoreError, err, zap.String("post_id", postID.String()))
			return Post{}, newServiceError(operation, reasonStoreError, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
	}

	service.logError(operation, reasonExhausted, lastConflict,
		zap.String("post_id", postID.String()),
		zap.Int("attempts", service.maxVoteAttempts))
	return Post{}, newServiceError(operation, reasonExhausted, fmt.Errorf("%w: %w", ErrStoreUnavailable, lastConflict))
}

func (service *Service) publish(ctx context.Context, eventType EventType, post Post) {
	if service.publisher == nil {
		return
	}
	event := PostEvent{
		Type:       eventType,
		Post:       post.Clone(),
		Version:    post.Version,
		OccurredAt: service.clock().UTC(),
	}
	if err := service.publisher.Publish(ctx, event); err != nil {
		service.logError(opPublishEvent, string(eventType), err, zap.String("post_id", post.ID))
	}
}

// now reads the service clock at the precision posts are persisted with.
func (service *Service) now() time.Time {
	return service.clock().UTC().Truncate(timestampPrecision)
}

func optionalViewer(rawViewer string) (VoterKey, error) {
	if rawViewer == "" {
		return "", nil
	}
	return NewVoterKey(rawViewer)
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil || service.logger == nil {
		return noOpLogger
	}
	return service.logger
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("forum service error", attrs...)
}
