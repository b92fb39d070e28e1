package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/resolver"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/utils"
	"github.com/sirupsen/logrus"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeTransportFailure
	outcomeClassificationFailure
)

// Outcome is the tagged result of one PID resolution inside a unit of work.
// The completion path pattern-matches on Kind: persist-and-finish,
// persist-and-schedule-retry, or drop.
type Outcome struct {
	Kind   outcomeKind
	PID    string
	Record *models.ResolutionRecord
	Err    error
}

// resolveAndPersist runs one PID through the classifier and engine and
// appends the attempt record. A persistence error is transport-class: it
// shares the unit's retry budget.
func resolveAndPersist(ctx context.Context, pid string) Outcome {
	logger := config.GetLogger()

	record, err := resolver.GetResolvedPIDRecord(ctx, pid)
	if err != nil {
		// Unrecognized scheme: terminal, unretryable, no record.
		return Outcome{Kind: outcomeClassificationFailure, PID: pid, Err: err}
	}

	if saveErr := models.SaveResolutionRecord(ctx, record); saveErr != nil {
		config.LogError(logger, "dispatch", "resolveAndPersist", "SaveResolutionRecord", pid, saveErr)
		return Outcome{Kind: outcomeTransportFailure, PID: pid, Err: saveErr}
	}

	if record.HTTPError != nil {
		return Outcome{Kind: outcomeTransportFailure, PID: pid, Record: record, Err: errors.New(*record.HTTPError)}
	}

	logger.WithFields(logrus.Fields{
		"pid":            pid,
		"pid_url":        record.PIDURL,
		"resolution_url": derefString(record.ResolutionURL),
		"status_code":    *record.StatusCode,
	}).Info("pid resolved")
	return Outcome{Kind: outcomeSuccess, PID: pid, Record: record}
}

// StatusText is the compact per-PID result used by the sync endpoint and the
// aggregate batch task: the HTTP status code on success, the error text
// otherwise.
func StatusText(outcome Outcome) string {
	switch outcome.Kind {
	case outcomeSuccess:
		return strconv.Itoa(*outcome.Record.StatusCode)
	case outcomeClassificationFailure:
		return utils.ErrorSchemeNotRecognised.Error()
	default:
		return outcome.Err.Error()
	}
}

// ResolveAndRecordStatus resolves one PID in the caller's execution context
// (sync endpoints) and returns its compact status text.
func ResolveAndRecordStatus(ctx context.Context, pid string) string {
	return StatusText(resolveAndPersist(ctx, pid))
}

// ProcessTask executes one delivered unit of work to completion, including
// its success/failure side effects. Delivery-level errors are handled inside;
// the push handler always acks so that the long-horizon retry schedule stays
// the only retry mechanism.
func ProcessTask(ctx context.Context, msg TaskMessage) {
	_ = models.MarkTaskRunning(ctx, msg.TaskID, msg.Attempt)

	switch msg.Kind {
	case TaskKindResolvePID:
		completeSingle(ctx, msg, resolveAndPersist(ctx, msg.PID))
	case TaskKindResolveAll:
		completeBatch(ctx, msg)
	case TaskKindResolveEvent:
		completeEvent(ctx, msg)
	default:
		config.LogError(config.GetLogger(), "dispatch", "ProcessTask", "unknown kind", msg.Kind, errors.New("dropping unknown task kind"))
	}
}

type completionAction int

const (
	actionSucceed completionAction = iota
	actionFailTerminal
	actionScheduleRetry
	actionFailExhausted
)

// decideCompletion maps an outcome and the unit's attempt count to the action
// the completion path takes. Classification failures never retry; transport
// failures retry until the attempt budget is spent.
func decideCompletion(outcome Outcome, attempt int, maxAttempts int) completionAction {
	switch outcome.Kind {
	case outcomeSuccess:
		return actionSucceed
	case outcomeClassificationFailure:
		return actionFailTerminal
	default:
		if attempt < maxAttempts {
			return actionScheduleRetry
		}
		return actionFailExhausted
	}
}

func completeSingle(ctx context.Context, msg TaskMessage, outcome Outcome) {
	logger := config.GetLogger()
	settings := config.GetSettings()

	switch decideCompletion(outcome, msg.Attempt, settings.MaxAttempts) {
	case actionSucceed:
		result := StatusText(outcome)
		if err := models.MarkTaskSucceeded(ctx, msg.TaskID, &result); err != nil {
			config.LogError(logger, "dispatch", "completeSingle", "MarkTaskSucceeded", msg.TaskID, err)
		}

	case actionFailTerminal:
		// Terminal and unretryable; the classifier already logged the warning.
		if err := models.MarkTaskFailed(ctx, msg.TaskID, outcome.Err.Error()); err != nil {
			config.LogError(logger, "dispatch", "completeSingle", "MarkTaskFailed", msg.TaskID, err)
		}

	case actionScheduleRetry:
		retryAt := computeRetryAt(settings)
		if err := scheduleRetry(ctx, msg, retryAt); err != nil {
			config.LogError(logger, "dispatch", "completeSingle", "scheduleRetry", msg.TaskID, err)
			_ = models.MarkTaskFailed(ctx, msg.TaskID, outcome.Err.Error())
			return
		}
		if err := models.MarkTaskRetryScheduled(ctx, msg.TaskID, retryAt, outcome.Err.Error()); err != nil {
			config.LogError(logger, "dispatch", "completeSingle", "MarkTaskRetryScheduled", msg.TaskID, err)
		}

	case actionFailExhausted:
		// Retries exhausted: the failed attempt record was already appended;
		// make sure one exists even when the failure was the write itself.
		if outcome.Record == nil {
			if classification, ok := resolver.ClassifyAndDerive(msg.PID); ok {
				synthetic := models.NewFailureRecord(msg.PID, classification.ActionableURL, outcome.Err.Error())
				if err := models.SaveResolutionRecord(ctx, synthetic); err != nil {
					config.LogError(logger, "dispatch", "completeSingle", "save synthetic record", msg.PID, err)
				}
			}
		}
		logger.WithFields(logrus.Fields{
			"pid":      msg.PID,
			"attempts": msg.Attempt,
		}).Warn("pid resolution retries exhausted: " + outcome.Err.Error())
		if err := models.MarkTaskFailed(ctx, msg.TaskID, outcome.Err.Error()); err != nil {
			config.LogError(logger, "dispatch", "completeSingle", "MarkTaskFailed", msg.TaskID, err)
		}
	}
}

// completeBatch runs the aggregate single-task mode: all PIDs sequentially in
// one unit, results collected into a PID -> status map. A persistence error
// aborts the remaining work; the whole unit then shares one retry budget.
func completeBatch(ctx context.Context, msg TaskMessage) {
	logger := config.GetLogger()
	settings := config.GetSettings()

	results := make(map[string]string, len(msg.PIDs))
	for i, pid := range msg.PIDs {
		outcome := resolveAndPersist(ctx, pid)
		if outcome.Kind == outcomeTransportFailure && outcome.Record == nil {
			// Unrecoverable inside this unit: abort remaining PIDs.
			abortErr := fmt.Errorf("batch aborted at pid %d/%d (%s): %w", i+1, len(msg.PIDs), pid, outcome.Err)
			if msg.Attempt < settings.MaxAttempts {
				retryAt := computeRetryAt(settings)
				if err := scheduleRetry(ctx, msg, retryAt); err == nil {
					_ = models.MarkTaskRetryScheduled(ctx, msg.TaskID, retryAt, abortErr.Error())
					return
				}
			}
			logger.WithFields(logrus.Fields{
				"pid":      pid,
				"attempts": msg.Attempt,
			}).Warn("batch resolution retries exhausted: " + abortErr.Error())
			_ = models.MarkTaskFailed(ctx, msg.TaskID, abortErr.Error())
			return
		}
		results[pid] = StatusText(outcome)
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		_ = models.MarkTaskFailed(ctx, msg.TaskID, err.Error())
		return
	}
	resultJSON := string(encoded)
	if err := models.MarkTaskSucceeded(ctx, msg.TaskID, &resultJSON); err != nil {
		config.LogError(logger, "dispatch", "completeBatch", "MarkTaskSucceeded", msg.TaskID, err)
	}
}

// completeEvent resolves a registered PIDMR event's PID and writes the
// resolver status back onto the event row, best-effort.
func completeEvent(ctx context.Context, msg TaskMessage) {
	logger := config.GetLogger()

	outcome := resolveAndPersist(ctx, msg.PID)
	status := StatusText(outcome)
	if err := models.UpdatePIDMREventResolverStatus(ctx, msg.EventID, status); err != nil {
		config.LogError(logger, "dispatch", "completeEvent", "UpdatePIDMREventResolverStatus", msg.EventID, err)
	}

	completeSingle(ctx, msg, outcome)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
