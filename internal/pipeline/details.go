package pipeline

import "time"

// runDetails is the JSON payload persisted onto Run.Details and
// AuditEvent.Details (§3: "structured payload: type, target snapshot,
// per-destination upload results, retention actions, notification
// results").
type runDetails struct {
	Type             string                 `json:"type"`
	TargetID         string                 `json:"target_id"`
	TargetName       string                 `json:"target_name"`
	Encrypted        bool                   `json:"encrypted"`
	Uploads          []uploadResult         `json:"uploads,omitempty"`
	RetentionDeleted []retentionDeletion    `json:"retention_deleted,omitempty"`
	Notifications    []NotificationAttempt  `json:"notifications,omitempty"`
}

// uploadResult is one destination's upload outcome, matching §4.3 step 5's
// "{destination_id, backup_id, name, size, created_at}".
type uploadResult struct {
	DestinationID string    `json:"destination_id"`
	BackupID      string    `json:"backup_id"`
	Name          string    `json:"name"`
	Size          *int64    `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
}

// retentionDeletion is one artifact removed by the retention sweep.
type retentionDeletion struct {
	DestinationID string `json:"destination_id"`
	BackupID      string `json:"backup_id"`
	Name          string `json:"name"`
}
