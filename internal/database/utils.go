package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Artifact is one entry of a task's execution artifact table.
type Artifact struct {
	Uri  string `json:"uri"`
	Mode string `json:"mode"`
}

// ArtifactMap decodes the task's artifact JSON column. A missing column
// decodes to an empty map.
func (t *Task) ArtifactMap() (map[string]Artifact, error) {
	if len(t.Artifacts) == 0 {
		return nil, nil
	}

	var artifacts map[string]Artifact
	if err := json.Unmarshal(t.Artifacts, &artifacts); err != nil {
		return nil, fmt.Errorf("error decoding task %s artifacts: %w", t.Id, err)
	}
	return artifacts, nil
}

// UpdateProjectTime stamps last_update on the given projects. Best-effort:
// errors are logged, not returned, since this runs outside the atomic status
// commit.
func UpdateProjectTime(ctx context.Context, db *gorm.DB, projectIds ...string) {
	if len(projectIds) == 0 {
		return
	}

	if err := db.WithContext(ctx).Model(&Project{}).
		Where("id IN ?", projectIds).
		Update("last_update", time.Now().UTC()).Error; err != nil {
		slog.Error("error updating project time", "project_ids", projectIds, "error", err)
	}
}

// UpdateTask applies field updates to a task, stamping last_change and
// last_changed_by (plus last_update when requested) in the same write.
func UpdateTask(ctx context.Context, db *gorm.DB, taskId, userId string, updates map[string]any, setLastUpdate bool) (int64, error) {
	now := time.Now().UTC()

	all := make(map[string]any, len(updates)+3)
	for k, v := range updates {
		all[k] = v
	}
	all["last_change"] = now
	all["last_changed_by"] = sql.NullString{String: userId, Valid: userId != ""}
	if setLastUpdate {
		all["last_update"] = now
	}

	res := db.WithContext(ctx).Model(&Task{}).Where("id = ?", taskId).Updates(all)
	if res.Error != nil {
		return 0, fmt.Errorf("error updating task %s: %w", taskId, res.Error)
	}
	return res.RowsAffected, nil
}
