package ml

import (
	"errors"
	"fmt"
)

var ErrNotFitted = errors.New("model not trained")

// InputShapeError rejects a feature vector before it reaches the classifier.
type InputShapeError struct {
	Field  string
	Reason string
}

func (e *InputShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid feature vector: %s", e.Reason)
	}
	return fmt.Sprintf("invalid feature vector: %s: %s", e.Field, e.Reason)
}

type ShapeMismatchError struct {
	Row  int
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("row %d has %d features, want %d", e.Row, e.Got, e.Want)
}

type UnknownCodeError struct {
	Code int
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("label code %d is outside the fitted code space", e.Code)
}

// InferenceError means the classifier and transcoder could not produce a label,
// usually because the artifact pair is missing or does not share a code space.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

type ArtifactLoadError struct {
	Path string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error {
	return e.Err
}
