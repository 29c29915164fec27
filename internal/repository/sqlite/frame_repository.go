package sqlite

import (
	"database/sql"
	"fmt"

	"potholecam/internal/model"
)

// FrameRepository implements repository.FrameRepository for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

const frameColumns = `f.id, f.record_id, f.session_id, f.filename, f.timestamp, f.filepath, f.filesize, f.latitude, f.longitude`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(row rowScanner) (*model.ArchivedFrame, error) {
	var f model.ArchivedFrame
	var lat, lon sql.NullFloat64
	if err := row.Scan(&f.ID, &f.RecordID, &f.SessionID, &f.Filename, &f.Timestamp, &f.FilePath, &f.FileSize, &lat, &lon); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		f.Latitude = &lat.Float64
		f.Longitude = &lon.Float64
	}
	return &f, nil
}

// Insert adds a new frame record to the database.
func (r *FrameRepository) Insert(f *model.ArchivedFrame) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO frames (record_id, session_id, filename, timestamp, filepath, filesize, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.RecordID, f.SessionID, f.Filename, f.Timestamp, f.FilePath, f.FileSize, f.Latitude, f.Longitude)
	if err != nil {
		return 0, fmt.Errorf("failed to insert frame: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a frame by its ID.
func (r *FrameRepository) GetByID(id int64) (*model.ArchivedFrame, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	f, err := scanFrame(r.db.Conn().QueryRow(`SELECT `+frameColumns+` FROM frames f WHERE f.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return f, nil
}

// GetByFilename retrieves a frame by its filename.
func (r *FrameRepository) GetByFilename(filename string) (*model.ArchivedFrame, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	f, err := scanFrame(r.db.Conn().QueryRow(`SELECT `+frameColumns+` FROM frames f WHERE f.filename = ?`, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return f, nil
}

// whereClause builds the filter conditions shared by GetAll and GetTotalCount.
func whereClause(filter *model.ArchiveFilter) (string, []interface{}) {
	query := ` WHERE 1=1`
	args := []interface{}{}

	if filter == nil {
		return query, args
	}

	if filter.SessionID != "" {
		query += " AND f.session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.ClassName != "" {
		query += " AND d.class_name = ?"
		args = append(args, filter.ClassName)
	}

	if !filter.DateAfter.IsZero() {
		query += " AND f.timestamp >= ?"
		args = append(args, filter.DateAfter)
	}

	if !filter.DateBefore.IsZero() {
		query += " AND f.timestamp <= ?"
		args = append(args, filter.DateBefore)
	}

	return query, args
}

// GetAll retrieves frames matching the filter, oldest first.
func (r *FrameRepository) GetAll(filter *model.ArchiveFilter) ([]model.ArchivedFrame, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT DISTINCT ` + frameColumns + ` FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` +
		where + ` ORDER BY f.timestamp ASC, f.id ASC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []model.ArchivedFrame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, *f)
	}

	return frames, rows.Err()
}

// GetTotalCount returns the number of frames matching the filter.
func (r *FrameRepository) GetTotalCount(filter *model.ArchiveFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := whereClause(filter)
	query := `SELECT COUNT(DISTINCT f.id) FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` + where

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}

	return count, nil
}

// GetTotalSize returns the summed size of all archived JPEG files.
func (r *FrameRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM frames`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum frame sizes: %w", err)
	}
	return size, nil
}

// Delete removes a frame and its detections by ID.
func (r *FrameRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE frame_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM frames WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

// DeleteByFilename removes a frame and its detections by filename.
func (r *FrameRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	var frameID int64
	err := r.db.Conn().QueryRow(`SELECT id FROM frames WHERE filename = ?`, filename).Scan(&frameID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get frame id: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE frame_id = ?`, frameID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM frames WHERE id = ?`, frameID); err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

// DeleteAll removes all frames and their detections.
func (r *FrameRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM frames`); err != nil {
		return fmt.Errorf("failed to delete frames: %w", err)
	}

	return nil
}
