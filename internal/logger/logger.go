package logger

import (
	"go.uber.org/zap"
)

var Log *zap.SugaredLogger

// Init sets up the package-level logger. Must run before anything logs.
func Init(development bool) {
	var base *zap.Logger
	var err error
	if development {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = base.Sugar()
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
