package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/reduce/internal/ir"
)

// stepFailure wraps an error returned by a primitive as an ir.StepError.
// Errors that already belong to the taxonomy pass through unchanged so the
// driver can tell a misconfigured run from a failing primitive.
func stepFailure(recipe, primitive string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ir.IsStepError(err), ir.IsConfigurationError(err), ir.IsResolutionError(err),
		ir.IsServiceError(err), IsDepthExceededError(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &ir.StepError{
		Recipe:    recipe,
		Primitive: primitive,
		Message:   "primitive failed",
		Err:       err,
	}
}

// calibrationNotFound is the step failure raised when no calibration of
// the requested type exists for a dataset.
func calibrationNotFound(req ir.CalibrationRequest) error {
	return &ir.StepError{
		Primitive: "getCalibration",
		Message:   fmt.Sprintf("CALIBRATION for %s NOT FOUND", req.Filename),
		Err:       fmt.Errorf("no %s calibration", req.CalType),
	}
}

// IsCanceled reports whether err is a context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
