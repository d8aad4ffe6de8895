package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别，数值与 zapcore.Level 一致
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel:  "debug",
	InfoLevel:   "info",
	WarnLevel:   "warn",
	ErrorLevel:  "error",
	DPanicLevel: "dpanic",
	PanicLevel:  "panic",
	FatalLevel:  "fatal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel 解析级别名，不区分大小写，warning 视同 warn
// 无法识别时返回 InfoLevel 与 false
func ParseLevel(s string) (Level, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	for l, n := range levelNames {
		if n == name {
			return l, true
		}
	}
	return InfoLevel, false
}

func (l Level) toZapLevel() zapcore.Level {
	return zapcore.Level(l)
}

func fromZapLevel(level zapcore.Level) Level {
	return Level(level)
}
