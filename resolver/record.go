package resolver

import (
	"context"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
)

// GetResolvedPIDRecord classifies the PID, attempts its actionable URL and
// builds the resolution record for the attempt. The record is not persisted.
// Unrecognized identifiers yield ErrorSchemeNotRecognised and no record of
// any kind.
func GetResolvedPIDRecord(ctx context.Context, pid string) (*models.ResolutionRecord, error) {
	classification, ok := ClassifyAndDerive(pid)
	if !ok {
		config.LogWarn(config.GetLogger(), "resolver", "GetResolvedPIDRecord", "classify", pid, "identifier scheme not recognised; no record created")
		return nil, utils.ErrorSchemeNotRecognised
	}

	result, verified, err := DefaultEngine().ResolveWithRetry(ctx, classification.ActionableURL)
	if err != nil {
		return models.NewFailureRecord(pid, classification.ActionableURL, err.Error()), nil
	}
	return models.NewSuccessRecord(
		pid,
		classification.ActionableURL,
		result.StatusCode,
		result.ContentType,
		verified,
		result.RedirectCount,
		result.FinalURL,
	), nil
}
