package forum

import "fmt"

// ServiceError carries a dotted operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "forum.service.new"
	opCastVote       = "forum.cast_vote"
	opAppendComment  = "forum.append_comment"
	opCreatePost     = "forum.create_post"
	opListPosts      = "forum.list_posts"
	opGetPost        = "forum.get_post"
	opPublishEvent   = "forum.publish_event"
	reasonInvalid    = "invalid_argument"
	reasonNotFound   = "not_found"
	reasonExhausted  = "conflict_exhausted"
	reasonStoreError = "store_unavailable"
	reasonIDFailed   = "id_generation_failed"
	reasonProfile    = "profile_lookup_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
