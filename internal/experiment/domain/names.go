package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// decoration matches a trailing program-key suffix such as " [BI-3]".
var decoration = regexp.MustCompile(`\s*\[[^\[\]]*\]\s*$`)

// DecorateName appends the program key, and the optional sequence, to name.
func DecorateName(name, programKey, sequence string) string {
	name = strings.TrimSpace(name)
	if programKey == "" {
		return name
	}
	if sequence == "" {
		return fmt.Sprintf("%s [%s]", name, programKey)
	}
	return fmt.Sprintf("%s [%s-%s]", name, programKey, sequence)
}

// NaturalName strips any program-key decoration from a stored name.
func NaturalName(name string) string {
	return strings.TrimSpace(decoration.ReplaceAllString(name, ""))
}

// UnitKey is the composite natural key of an observation unit within a study.
func UnitKey(studyName, unitName string) string {
	return NaturalName(studyName) + "\x00" + NaturalName(unitName)
}

// StudyKey is the composite natural key of a study within a trial.
func StudyKey(trialName, envName string) string {
	return NaturalName(trialName) + "\x00" + NaturalName(envName)
}

// ObservationHash identifies an observation by unit, variable and study
// natural names, so it survives program-key renames.
func ObservationHash(unitName, variableName, studyName string) string {
	key := strings.Join([]string{NaturalName(unitName), variableName, NaturalName(studyName)}, "\x00")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
