// Package transport holds the request and response bodies of the experiment
// import API.
package transport

import (
	"encoding/json"
	"regexp"
	"time"

	"experiment_import_backend/internal/experiment/domain"
	"experiment_import_backend/platform/sanitize"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var workflowIDPattern = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)

// ValidateWorkflowID backs the `workflowid` tag.
func ValidateWorkflowID(fl validator.FieldLevel) bool {
	return workflowIDPattern.MatchString(fl.Field().String())
}

// ImportRequest is one uploaded table plus the run options.
type ImportRequest struct {
	Workflow           string              `json:"workflow" validate:"required,workflowid,max=64"`
	Commit             bool                `json:"commit"`
	OverwritePermitted bool                `json:"overwritePermitted"`
	OverwriteReason    string              `json:"overwriteReason" validate:"max=500"`
	Headers            []string            `json:"headers" validate:"required,min=1,max=500,dive,max=200"`
	Rows               []map[string]string `json:"rows" validate:"required,min=1,max=50000"`
}

// UserInput returns the uploader's choices. The reason is stored on
// overwritten observations, so markup is stripped.
func (r ImportRequest) UserInput() domain.UserInput {
	return domain.UserInput{
		OverwritePermitted: r.OverwritePermitted,
		OverwriteReason:    sanitize.Text(r.OverwriteReason),
	}
}

type WorkflowResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type WorkflowListResponse struct {
	Items []WorkflowResponse `json:"items"`
}

// ImportResponse is returned by a synchronous run.
type ImportResponse struct {
	ImportID uuid.UUID            `json:"importId"`
	Status   string               `json:"status"`
	Preview  domain.ImportPreview `json:"preview"`
}

// ImportAcceptedResponse is returned when a commit was queued.
type ImportAcceptedResponse struct {
	ImportID uuid.UUID `json:"importId"`
	Status   string    `json:"status"`
}

type ImportStatusResponse struct {
	ImportID  uuid.UUID       `json:"importId"`
	ProgramID string          `json:"programId"`
	Workflow  string          `json:"workflow"`
	Commit    bool            `json:"commit"`
	Status    string          `json:"status"`
	Finished  int             `json:"finished"`
	Remaining int             `json:"remaining"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
