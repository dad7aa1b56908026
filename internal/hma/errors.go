package hma

import (
	xerrors "GatewayHMA/internal/errors"
)

const (
	CodeSelectionPredicate xerrors.Code = "SELECTION_PREDICATE_FAILED"
	CodeSubAgentExecution  xerrors.Code = "SUBAGENT_EXECUTION_FAILED"
	CodeCompletionProvider xerrors.Code = "COMPLETION_PROVIDER_FAILED"
	CodeContextRecall      xerrors.Code = "CONTEXT_RECALL_FAILED"
	CodeCycleScheduling    xerrors.Code = "CYCLE_SCHEDULING_FAILED"
)

func init() {
	xerrors.Register(CodeSelectionPredicate, xerrors.Attributes{
		Message:     "selection predicate failed",
		Severity:    xerrors.SeverityInfo,
		Recoverable: true,
	})
	xerrors.Register(CodeSubAgentExecution, xerrors.Attributes{
		Message:     "sub-agent execution failed",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
	})
	xerrors.Register(CodeCompletionProvider, xerrors.Attributes{
		Message:     "completion provider failed",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
	})
	xerrors.Register(CodeContextRecall, xerrors.Attributes{
		Message:     "context recall failed",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
	})
	xerrors.Register(CodeCycleScheduling, xerrors.Attributes{
		Message:     "cycle scheduling failed",
		Severity:    xerrors.SeverityCritical,
		Recoverable: false,
	})
}
