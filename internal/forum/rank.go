package forum

import "sort"

// RankPosts orders posts by score, highest first. Equal scores put the newest post first;
// posts that also share a creation time keep their input order.
func RankPosts(posts []Post) []Post {
	ranked := make([]Post, len(posts))
	copy(ranked, posts)
	sort.SliceStable(ranked, func(left, right int) bool {
		if ranked[left].Upvotes != ranked[right].Upvotes {
			return ranked[left].Upvotes > ranked[right].Upvotes
		}
		return ranked[left].CreatedAt.After(ranked[right].CreatedAt)
	})
	return ranked
}
