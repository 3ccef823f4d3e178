package stream

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `stream` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation.
//     this includes:
//     - backpressure fallbacks and marker push failures
//     - dropped malformed frames
//     - abnormal exits
// Debug (V(2)):
//     key events for trace debugging
//     this includes:
//     - per-frame receive and dispatch with topic/kind tags that can be used
//       to filter

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

type LogFunction func(string, ...any)

func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		switch {
		case level <= LogLevelUrgent:
			glog.Errorf("%s: %s\n", tag, m)
		case level <= LogLevelInfo:
			glog.Infof("%s: %s\n", tag, m)
		default:
			glog.V(2).Infof("%s: %s\n", tag, m)
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
