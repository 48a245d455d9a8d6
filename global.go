package bulkbatch

import (
	"os"

	"github.com/chararch/bulkbatch/internal/logs"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for bulkbatch
func SetLogger(l logs.Logger) {
	if l == nil {
		panic("logger must not be nil")
	}
	logger = l
}

//task pool
const (
	DefaultJobPoolSize = 10
)
