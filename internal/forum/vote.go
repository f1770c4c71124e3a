package forum

import "fmt"

// VoteResult describes an applied vote transition.
type VoteResult struct {
	PostID   string        `json:"postId"`
	Voter    VoterKey      `json:"voter"`
	Previous VoteDirection `json:"previous"`
	Current  VoteDirection `json:"current"`
	Delta    int64         `json:"delta"`
	Post     Post          `json:"post"`
}

// Transition returns the vote state after the voter clicks a direction, and the score delta.
// Clicking the active direction always removes the vote.
func Transition(current, clicked VoteDirection) (VoteDirection, int64) {
	switch {
	case current == VoteNone && clicked == VoteUp:
		return VoteUp, 1
	case current == VoteNone && clicked == VoteDown:
		return VoteDown, -1
	case current == VoteUp && clicked == VoteUp:
		return VoteNone, -1
	case current == VoteUp && clicked == VoteDown:
		return VoteDown, -2
	case current == VoteDown && clicked == VoteDown:
		return VoteNone, 1
	case current == VoteDown && clicked == VoteUp:
		return VoteUp, 2
	default:
		return current, 0
	}
}

// applyVote mutates post in place and reports the transition.
func applyVote(post *Post, voter VoterKey, clicked VoteDirection) (VoteDirection, VoteDirection, int64, error) {
	if !clicked.Valid() {
		return VoteNone, VoteNone, 0, fmt.Errorf("%w: unknown vote direction %q", ErrInvalidArgument, clicked)
	}
	if post.Voters == nil {
		post.Voters = make(map[VoterKey]VoteDirection)
	}
	previous := post.VoteOf(voter)
	next, delta := Transition(previous, clicked)
	if next == VoteNone {
		delete(post.Voters, voter)
	} else {
		post.Voters[voter] = next
	}
	post.Upvotes += delta
	return previous, next, delta, nil
}
