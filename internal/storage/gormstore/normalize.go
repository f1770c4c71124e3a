package gormstore

import "gorm.io/gorm"

const recomputeScores = `UPDATE posts SET
	upvotes = (
		SELECT COALESCE(SUM(CASE post_votes.direction WHEN 'up' THEN 1 WHEN 'down' THEN -1 ELSE 0 END), 0)
		FROM post_votes WHERE post_votes.post_id = posts.id
	),
	version = version + 1
WHERE upvotes <> (
	SELECT COALESCE(SUM(CASE post_votes.direction WHEN 'up' THEN 1 WHEN 'down' THEN -1 ELSE 0 END), 0)
	FROM post_votes WHERE post_votes.post_id = posts.id
)`

// NormalizeVoteLedger removes vote rows that do not hold "up" or "down" (the legacy null
// "removed vote" marker) and recomputes every score that disagrees with its ledger.
// It returns the number of removed rows and repaired posts.
func NormalizeVoteLedger(db *gorm.DB) (int64, int64, error) {
	var removed, repaired int64
	err := db.Transaction(func(tx *gorm.DB) error {
		deletion := tx.Where("direction IS NULL OR direction NOT IN ?", []string{"up", "down"}).Delete(&VoteRecord{})
		if deletion.Error != nil {
			return deletion.Error
		}
		removed = deletion.RowsAffected

		recompute := tx.Exec(recomputeScores)
		if recompute.Error != nil {
			return recompute.Error
		}
		repaired = recompute.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return removed, repaired, nil
}
