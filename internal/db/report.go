package db

import "fmt"

// DecisionsBetween returns decisions with decided_at in [start, end), oldest
// first. An end of zero means no upper bound. Unlike RecentDecisions this is
// unbounded; it exists for the offline report tool, not the API.
func (db *DB) DecisionsBetween(start, end int64) ([]Decision, error) {
	rows, err := db.Query(
		`SELECT id, cycle_id, category, cycle_count, decided_at
		 FROM decisions
		 WHERE decided_at >= ? AND (decided_at < ? OR ? = 0)
		 ORDER BY id ASC`, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.CycleID, &d.Category, &d.CycleCount, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return decisions, nil
}

// ConfidencesBetween returns the classifier confidence values per category
// for observations with observed_at in [start, end), in insertion order. An
// end of zero means no upper bound.
func (db *DB) ConfidencesBetween(start, end int64) (map[string][]float64, error) {
	rows, err := db.Query(
		`SELECT category, confidence
		 FROM observations
		 WHERE observed_at >= ? AND (observed_at < ? OR ? = 0)
		 ORDER BY id ASC`, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	confidences := make(map[string][]float64)
	for rows.Next() {
		var cat string
		var confidence float64
		if err := rows.Scan(&cat, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		confidences[cat] = append(confidences[cat], confidence)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return confidences, nil
}
