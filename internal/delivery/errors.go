package delivery

import (
	xerrors "GatewayHMA/internal/errors"
)

const (
	CodePersistence xerrors.Code = "PERSISTENCE_FAILED"
	CodeDispatch    xerrors.Code = "DISPATCH_FAILED"
)

func init() {
	xerrors.Register(CodePersistence, xerrors.Attributes{
		Message:     "persistence failed",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
	})
	xerrors.Register(CodeDispatch, xerrors.Attributes{
		Message:     "dispatch failed",
		Severity:    xerrors.SeverityWarning,
		Recoverable: true,
	})
}
