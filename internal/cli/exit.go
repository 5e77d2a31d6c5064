package cli

import (
	"errors"

	"github.com/infodancer/attomail/internal/deliver"
	"github.com/infodancer/attomail/internal/privdrop"
)

// Exit codes from sysexits(3), which is what callers of sendmail expect.
const (
	ExitOK       = 0
	ExitUsage    = 64
	ExitDataErr  = 65
	ExitNoUser   = 67
	ExitSoftware = 70
	ExitTempFail = 75
	ExitNoPerm   = 77
	ExitConfig   = 78
)

var errUsage = errors.New("usage")

// ExitCode maps an error returned by the command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, errUsage) {
		return ExitUsage
	}
	if errors.Is(err, privdrop.ErrPrivilegeReacquisitionDetected) {
		return ExitSoftware
	}

	stage, ok := deliver.StageOf(err)
	if !ok {
		return ExitSoftware
	}
	switch stage {
	case deliver.StageConfig, deliver.StagePath:
		return ExitConfig
	case deliver.StageIdentity:
		return ExitNoUser
	case deliver.StageAddress:
		return ExitDataErr
	case deliver.StagePrivilege:
		return ExitNoPerm
	default:
		return ExitTempFail
	}
}
