package api

import "time"

type Task struct {
	Id      string
	Company string
	Project string `json:"Project,omitempty"`
	Parent  string `json:"Parent,omitempty"`
	Name    string

	Status        string
	StatusReason  string `json:"StatusReason,omitempty"`
	StatusMessage string `json:"StatusMessage,omitempty"`
	StatusChanged time.Time

	CreationTime time.Time
	LastUpdate   time.Time
	LastChange   time.Time

	SystemTags []string `json:"SystemTags,omitempty"`
}

type ChangeTaskStatusRequest struct {
	Company string
	User    string

	Status        string
	StatusReason  string
	StatusMessage string

	Force          bool
	AllowSameState bool
}

type ChangeTaskStatusResponse struct {
	Updated int64
	Fields  map[string]any
}

type DeleteTaskParams struct {
	Company string `schema:"company"`
	User    string `schema:"user"`

	Force          bool `schema:"force"`
	ReturnFileUrls bool `schema:"return_file_urls"`

	// Pointers so that an absent param defaults to true.
	UpdateChildren          *bool `schema:"update_children"`
	DeleteOutputModels      *bool `schema:"delete_output_models"`
	DeleteExternalArtifacts *bool `schema:"delete_external_artifacts"`

	StatusReason  string `schema:"status_reason"`
	StatusMessage string `schema:"status_message"`
}

type TaskUrls struct {
	ModelUrls    []string `json:"ModelUrls,omitempty"`
	EventUrls    []string `json:"EventUrls,omitempty"`
	ArtifactUrls []string `json:"ArtifactUrls,omitempty"`
}

type DeleteTaskResponse struct {
	Deleted bool

	UpdatedChildren int64
	UpdatedModels   int64
	DeletedModels   int64

	Urls *TaskUrls `json:"Urls,omitempty"`
}

type ScalarEvent struct {
	Metric  string
	Variant string
	Value   float64

	MinValue          *float64 `json:"MinValue,omitempty"`
	MinValueIteration int64
	MaxValue          *float64 `json:"MaxValue,omitempty"`
	MaxValueIteration int64
}

type ReportScalarsRequest struct {
	Company string
	User    string

	Events []ScalarEvent

	// ModelEvents marks the owner id as a model rather than a task.
	ModelEvents bool
}
