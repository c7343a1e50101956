// Package domain holds the experiment import model: BrAPI entity shapes, the
// pending-object state machine, parsed import rows and validation results.
package domain

import (
	"strings"
	"time"
)

// ExternalReference links a BrAPI record back to the entity that created it.
type ExternalReference struct {
	ReferenceID     string `json:"referenceId"`
	ReferenceSource string `json:"referenceSource"`
}

// AdditionalInfo is the free-form BrAPI additionalInfo object.
type AdditionalInfo map[string]any

// Clone returns a shallow copy so snapshots do not share the map.
func (a AdditionalInfo) Clone() AdditionalInfo {
	if a == nil {
		return nil
	}
	out := make(AdditionalInfo, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the value stored under key when it is a string.
func (a AdditionalInfo) String(key string) string {
	if a == nil {
		return ""
	}
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Additional info keys written by the importer.
const (
	InfoObservationDatasetID = "observationDatasetId"
	InfoExperimentNumber     = "experimentNumber"
	InfoEnvironmentNumber    = "environmentNumber"
	InfoCreatedBy            = "createdBy"
	InfoPreviousValue        = "previousValue"
	InfoOverwriteReason      = "overwriteReason"
	InfoObservationLevel     = "observationLevel"
	InfoTestOrCheck          = "testCheck"
	InfoExperimentType       = "experimentType"
)

// Program is the BrAPI program that scopes every import.
type Program struct {
	ProgramDbID  string              `json:"programDbId"`
	ProgramName  string              `json:"programName"`
	Abbreviation string              `json:"abbreviation"`
	CropName     string              `json:"commonCropName,omitempty"`
	References   []ExternalReference `json:"externalReferences,omitempty"`
}

// Key returns the program key used to decorate entity names.
func (p Program) Key() string {
	return strings.TrimSpace(p.Abbreviation)
}

// Trial is a BrAPI trial (one experiment).
type Trial struct {
	TrialDbID        string              `json:"trialDbId,omitempty"`
	TrialName        string              `json:"trialName"`
	TrialDescription string              `json:"trialDescription,omitempty"`
	ProgramDbID      string              `json:"programDbId,omitempty"`
	ProgramName      string              `json:"programName,omitempty"`
	CommonCropName   string              `json:"commonCropName,omitempty"`
	Active           bool                `json:"active"`
	References       []ExternalReference `json:"externalReferences,omitempty"`
	AdditionalInfo   AdditionalInfo      `json:"additionalInfo,omitempty"`
}

// Location is a BrAPI location.
type Location struct {
	LocationDbID string              `json:"locationDbId,omitempty"`
	LocationName string              `json:"locationName"`
	References   []ExternalReference `json:"externalReferences,omitempty"`
}

// Study is a BrAPI study (one environment of an experiment).
type Study struct {
	StudyDbID      string              `json:"studyDbId,omitempty"`
	StudyName      string              `json:"studyName"`
	StudyType      string              `json:"studyType,omitempty"`
	TrialDbID      string              `json:"trialDbId,omitempty"`
	TrialName      string              `json:"trialName,omitempty"`
	LocationDbID   string              `json:"locationDbId,omitempty"`
	LocationName   string              `json:"locationName,omitempty"`
	Seasons        []string            `json:"seasons,omitempty"`
	Active         bool                `json:"active"`
	References     []ExternalReference `json:"externalReferences,omitempty"`
	AdditionalInfo AdditionalInfo      `json:"additionalInfo,omitempty"`
}

// Germplasm is a BrAPI germplasm record. The importer only reads germplasm.
type Germplasm struct {
	GermplasmDbID   string              `json:"germplasmDbId,omitempty"`
	GermplasmName   string              `json:"germplasmName"`
	AccessionNumber string              `json:"accessionNumber,omitempty"`
	References      []ExternalReference `json:"externalReferences,omitempty"`
}

// ObservationLevel names one level of the observation unit hierarchy.
type ObservationLevel struct {
	LevelName string `json:"levelName"`
	LevelCode string `json:"levelCode"`
}

// Position describes where an observation unit sits in the field.
type Position struct {
	EntryType                     string             `json:"entryType,omitempty"`
	PositionCoordinateX           string             `json:"positionCoordinateX,omitempty"`
	PositionCoordinateXType       string             `json:"positionCoordinateXType,omitempty"`
	PositionCoordinateY           string             `json:"positionCoordinateY,omitempty"`
	PositionCoordinateYType       string             `json:"positionCoordinateYType,omitempty"`
	ObservationLevel              ObservationLevel   `json:"observationLevel"`
	ObservationLevelRelationships []ObservationLevel `json:"observationLevelRelationships,omitempty"`
}

// Treatment is one treatment factor applied to an observation unit.
type Treatment struct {
	Factor   string `json:"factor"`
	Modality string `json:"modality,omitempty"`
}

// ObservationUnit is a BrAPI observation unit (plot, plant, ...).
type ObservationUnit struct {
	ObservationUnitDbID string              `json:"observationUnitDbId,omitempty"`
	ObservationUnitName string              `json:"observationUnitName"`
	ProgramDbID         string              `json:"programDbId,omitempty"`
	TrialDbID           string              `json:"trialDbId,omitempty"`
	TrialName           string              `json:"trialName,omitempty"`
	StudyDbID           string              `json:"studyDbId,omitempty"`
	StudyName           string              `json:"studyName,omitempty"`
	LocationDbID        string              `json:"locationDbId,omitempty"`
	GermplasmDbID       string              `json:"germplasmDbId,omitempty"`
	GermplasmName       string              `json:"germplasmName,omitempty"`
	Position            Position            `json:"observationUnitPosition"`
	Treatments          []Treatment         `json:"treatments,omitempty"`
	References          []ExternalReference `json:"externalReferences,omitempty"`
	AdditionalInfo      AdditionalInfo      `json:"additionalInfo,omitempty"`
}

// Dataset is the BrAPI list of observation variables attached to a trial.
type Dataset struct {
	ListDbID       string              `json:"listDbId,omitempty"`
	ListName       string              `json:"listName"`
	ListType       string              `json:"listType"`
	ListOwnerName  string              `json:"listOwnerName,omitempty"`
	Data           []string            `json:"data"`
	References     []ExternalReference `json:"externalReferences,omitempty"`
	AdditionalInfo AdditionalInfo      `json:"additionalInfo,omitempty"`
}

// DatasetListType is the BrAPI list type used for observation datasets.
const DatasetListType = "observationVariables"

// Observation is one stored phenotype value.
type Observation struct {
	ObservationDbID         string              `json:"observationDbId,omitempty"`
	ObservationUnitDbID     string              `json:"observationUnitDbId,omitempty"`
	ObservationUnitName     string              `json:"observationUnitName,omitempty"`
	ObservationVariableDbID string              `json:"observationVariableDbId,omitempty"`
	ObservationVariableName string              `json:"observationVariableName,omitempty"`
	StudyDbID               string              `json:"studyDbId,omitempty"`
	GermplasmDbID           string              `json:"germplasmDbId,omitempty"`
	GermplasmName           string              `json:"germplasmName,omitempty"`
	Value                   string              `json:"value"`
	ObservationTimeStamp    *time.Time          `json:"observationTimeStamp,omitempty"`
	Season                  string              `json:"season,omitempty"`
	References              []ExternalReference `json:"externalReferences,omitempty"`
	AdditionalInfo          AdditionalInfo      `json:"additionalInfo,omitempty"`
}

// Scale data types understood by the field validators.
const (
	DataTypeNumerical = "NUMERICAL"
	DataTypeDuration  = "DURATION"
	DataTypeOrdinal   = "ORDINAL"
	DataTypeNominal   = "NOMINAL"
	DataTypeDate      = "DATE"
	DataTypeText      = "TEXT"
)

// Category is one declared value of an ordinal or nominal scale.
type Category struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// ValidValues bounds the values a scale accepts.
type ValidValues struct {
	Min        *float64   `json:"min,omitempty"`
	Max        *float64   `json:"max,omitempty"`
	Categories []Category `json:"categories,omitempty"`
}

// Scale describes how a trait's values are recorded.
type Scale struct {
	ScaleName   string      `json:"scaleName,omitempty"`
	DataType    string      `json:"dataType,omitempty"`
	ValidValues ValidValues `json:"validValues"`
}

// Trait is an ontology term (BrAPI observation variable) a column maps to.
type Trait struct {
	ObservationVariableDbID string              `json:"observationVariableDbId"`
	ObservationVariableName string              `json:"observationVariableName"`
	Scale                   *Scale              `json:"scale,omitempty"`
	References              []ExternalReference `json:"externalReferences,omitempty"`
}

// DataType returns the normalized scale data type, empty when undeclared.
func (t *Trait) DataType() string {
	if t == nil || t.Scale == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(t.Scale.DataType))
}

// ReferenceID returns the id of the first reference whose source matches.
func ReferenceID(refs []ExternalReference, source string) string {
	for _, ref := range refs {
		if ref.ReferenceSource == source {
			return ref.ReferenceID
		}
	}
	return ""
}
