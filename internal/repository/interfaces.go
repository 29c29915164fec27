package repository

import (
	"potholecam/internal/model"
)

// FrameRepository defines the interface for archived frame operations.
type FrameRepository interface {
	// Create operations
	Insert(frame *model.ArchivedFrame) (int64, error)

	// Read operations
	GetByID(id int64) (*model.ArchivedFrame, error)
	GetByFilename(filename string) (*model.ArchivedFrame, error)
	GetAll(filter *model.ArchiveFilter) ([]model.ArchivedFrame, error)
	GetTotalCount(filter *model.ArchiveFilter) (int, error)
	GetTotalSize() (int64, error)

	// Delete operations
	Delete(id int64) error
	DeleteByFilename(filename string) error
	DeleteAll() error
}

// DetectionRepository defines the interface for archived detection operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.ArchivedDetection) error

	// Read operations
	GetByFrameID(frameID int64) ([]model.ArchivedDetection, error)
	GetClassNamesByFrameID(frameID int64) ([]string, error)
	GetAllClassNames() ([]string, error)
}
