package impl

import (
	"fmt"

	"github.com/ls4154/blockwal/env"
	"github.com/ls4154/blockwal/wal"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func validateOption(userOpt *wal.Options) (*wal.Options, error) {
	if userOpt == nil {
		return nil, fmt.Errorf("%w: option is nil", wal.ErrInvalidArgument)
	}

	opt := &wal.Options{}
	*opt = *userOpt

	if userOpt.Compression != wal.NoCompression && userOpt.Compression != wal.SnappyCompression {
		return nil, fmt.Errorf("%w: invalid compression type", wal.ErrInvalidArgument)
	}

	if err := checkPosition(userOpt.RecoverFrom); err != nil {
		return nil, err
	}

	if opt.Env == nil {
		opt.Env = env.DefaultEnv()
	}
	if opt.Logger == nil {
		opt.Logger = nopLogger{}
	}

	return opt, nil
}

func checkPosition(pos wal.Position) error {
	return pos.Validate()
}
