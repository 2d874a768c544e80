package api

import (
	"tracker-backend/internal/database"
	"tracker-backend/pkg/api"
)

func convertTask(t *database.Task) api.Task {
	out := api.Task{
		Id:            t.Id,
		Company:       t.Company,
		Name:          t.Name,
		Status:        t.Status,
		StatusReason:  t.StatusReason,
		StatusMessage: t.StatusMessage,
		CreationTime:  t.CreationTime,
	}
	if t.ProjectId.Valid {
		out.Project = t.ProjectId.String
	}
	if t.Parent.Valid {
		out.Parent = t.Parent.String
	}
	if t.StatusChanged.Valid {
		out.StatusChanged = t.StatusChanged.Time
	}
	if t.LastUpdate.Valid {
		out.LastUpdate = t.LastUpdate.Time
	}
	if t.LastChange.Valid {
		out.LastChange = t.LastChange.Time
	}
	for _, tag := range t.SystemTags {
		out.SystemTags = append(out.SystemTags, tag.Tag)
	}
	return out
}
