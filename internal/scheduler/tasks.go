package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskExperimentImportCommit = "experiment.import.commit"

type ExperimentImportCommitPayload struct {
	ImportID           string              `json:"importId"`
	ProgramID          string              `json:"programId"`
	UserID             string              `json:"userId"`
	Workflow           string              `json:"workflow"`
	OverwritePermitted bool                `json:"overwritePermitted"`
	OverwriteReason    string              `json:"overwriteReason,omitempty"`
	Headers            []string            `json:"headers"`
	Rows               []map[string]string `json:"rows"`
}

func NewExperimentImportCommitTask(payload ExperimentImportCommitPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExperimentImportCommit, data), nil
}

func ParseExperimentImportCommitPayload(task *asynq.Task) (ExperimentImportCommitPayload, error) {
	var payload ExperimentImportCommitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExperimentImportCommitPayload{}, err
	}
	return payload, nil
}
