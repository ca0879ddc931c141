// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wavelog provides a simple leveled logger: one io.Writer +
// *log.Logger pair per level, a package-level SetLevel that discards
// everything below it, and thin Print/Printf wrappers. Time/date are
// not logged by default because the process supervisor (systemd, a
// container runtime) usually adds them.
//
// Component tagging is the one convenience on top:
// every call site names the subsystem it's logging for ("signalservice",
// "transport", "reloadwatcher", ...) so multiplexed backend logs stay
// attributable.
package wavelog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	debugPrefix = "<7>[DEBUG]    "
	infoPrefix  = "<6>[INFO]     "
	warnPrefix  = "<4>[WARNING]  "
	errPrefix   = "<3>[ERROR]    "
)

var (
	debugLog *log.Logger = log.New(DebugWriter, debugPrefix, 0)
	infoLog  *log.Logger = log.New(InfoWriter, infoPrefix, 0)
	warnLog  *log.Logger = log.New(WarnWriter, warnPrefix, log.Lshortfile)
	errLog   *log.Logger = log.New(ErrWriter, errPrefix, log.Llongfile)

	debugTimeLog *log.Logger = log.New(DebugWriter, debugPrefix, log.LstdFlags)
	infoTimeLog  *log.Logger = log.New(InfoWriter, infoPrefix, log.LstdFlags)
	warnTimeLog  *log.Logger = log.New(WarnWriter, warnPrefix, log.LstdFlags|log.Lshortfile)
	errTimeLog   *log.Logger = log.New(ErrWriter, errPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel discards everything below the given level ("debug", "info",
// "warn", "err"/"fatal").
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Printf("wavelog: invalid level %q, defaulting to debug\n", lvl)
		SetLevel("debug")
	}
}

// SetLogDateTime toggles a timestamp prefix on every subsequent log line.
func SetLogDateTime(on bool) { logDateTime = on }

// Component returns a tagged logger bound to a subsystem name, e.g.
// wavelog.Component("signalservice").Infof("parsed %s", path).
func Component(name string) *Logger {
	return &Logger{tag: "[" + name + "] "}
}

// Logger is a component-scoped view over the package-level writers.
type Logger struct {
	tag string
}

func (l *Logger) Debugf(format string, v ...interface{}) { debugf(l.tag + fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...interface{})  { infof(l.tag + fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...interface{})  { warnf(l.tag + fmt.Sprintf(format, v...)) }
func (l *Logger) Errorf(format string, v ...interface{}) { errorf(l.tag + fmt.Sprintf(format, v...)) }

func (l *Logger) Debug(v ...interface{}) { debugf(l.tag + fmt.Sprint(v...)) }
func (l *Logger) Info(v ...interface{})  { infof(l.tag + fmt.Sprint(v...)) }
func (l *Logger) Warn(v ...interface{})  { warnf(l.tag + fmt.Sprint(v...)) }
func (l *Logger) Error(v ...interface{}) { errorf(l.tag + fmt.Sprint(v...)) }

func debugf(out string) {
	if DebugWriter == io.Discard {
		return
	}
	if logDateTime {
		debugTimeLog.Output(3, out)
	} else {
		debugLog.Output(3, out)
	}
}

func infof(out string) {
	if InfoWriter == io.Discard {
		return
	}
	if logDateTime {
		infoTimeLog.Output(3, out)
	} else {
		infoLog.Output(3, out)
	}
}

func warnf(out string) {
	if WarnWriter == io.Discard {
		return
	}
	if logDateTime {
		warnTimeLog.Output(3, out)
	} else {
		warnLog.Output(3, out)
	}
}

func errorf(out string) {
	if ErrWriter == io.Discard {
		return
	}
	if logDateTime {
		errTimeLog.Output(3, out)
	} else {
		errLog.Output(3, out)
	}
}
