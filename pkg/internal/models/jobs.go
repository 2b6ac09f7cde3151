package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ImportStatusPending   = "pending"
	ImportStatusSucceeded = "succeeded"
	ImportStatusFailed    = "failed"
)

// ImportJob tracks one ingest call. The HTTP acknowledgement is returned before
// anything is fetched, so this record is the only way to learn how it ended.
type ImportJob struct {
	BaseModel

	Uuid       string                              `json:"uuid" gorm:"uniqueIndex;size:36"`
	PackID     string                              `json:"pack_id" gorm:"index;size:64"`
	Overwrite  bool                                `json:"overwrite"`
	Status     string                              `json:"status" gorm:"size:16"`
	Reason     string                              `json:"reason"`
	Report     datatypes.JSONType[ImportJobReport] `json:"report"`
	StartedAt  *time.Time                          `json:"started_at"`
	FinishedAt *time.Time                          `json:"finished_at"`
}

type ImportJobReport struct {
	Name             string            `json:"name,omitempty"`
	Animated         bool              `json:"animated"`
	Total            int               `json:"total"`
	Fetched          []string          `json:"fetched,omitempty"`
	Skipped          map[string]string `json:"skipped,omitempty"`
	ThumbnailsFailed map[string]string `json:"thumbnails_failed,omitempty"`
	Mirrored         bool              `json:"mirrored"`
}

func (v ImportJob) IsFinished() bool {
	return v.Status == ImportStatusSucceeded || v.Status == ImportStatusFailed
}
