package sqlite

import (
	"fmt"

	"potholecam/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.ArchivedDetection) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (frame_id, class_name, confidence, x_min, y_min, x_max, y_max)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.FrameID, det.ClassName, det.Confidence, det.XMin, det.YMin, det.XMax, det.YMax); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByFrameID retrieves all detections of a frame.
func (r *DetectionRepository) GetByFrameID(frameID int64) ([]model.ArchivedDetection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, frame_id, class_name, confidence, x_min, y_min, x_max, y_max
		FROM detections WHERE frame_id = ? ORDER BY id
	`, frameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.ArchivedDetection
	for rows.Next() {
		var det model.ArchivedDetection
		if err := rows.Scan(&det.ID, &det.FrameID, &det.ClassName, &det.Confidence, &det.XMin, &det.YMin, &det.XMax, &det.YMax); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// GetClassNamesByFrameID returns the distinct class names of a frame.
func (r *DetectionRepository) GetClassNamesByFrameID(frameID int64) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryStrings(`SELECT DISTINCT class_name FROM detections WHERE frame_id = ? ORDER BY class_name`, frameID)
}

// GetAllClassNames returns every distinct class name in the archive.
func (r *DetectionRepository) GetAllClassNames() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.queryStrings(`SELECT DISTINCT class_name FROM detections ORDER BY class_name`)
}

func (r *DetectionRepository) queryStrings(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query class names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan class name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
