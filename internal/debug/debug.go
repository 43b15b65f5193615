// Package debug implements an opt-in debug logger for the emulator. It is
// silent unless S3LITE_DEBUG is set, following the same environment-gated
// pattern restic's own internal/debug package uses for its backend code.
package debug

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
)

var opts struct {
	isEnabled bool
	logger    *log.Logger
}

var _ = initDebug()

func initDebug() bool {
	if os.Getenv("S3LITE_DEBUG") == "" {
		return false
	}

	opts.isEnabled = true

	if logfile := os.Getenv("S3LITE_DEBUG_LOG"); logfile != "" {
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "debug: unable to open log file %v: %v\n", logfile, err)
			os.Exit(2)
		}
		opts.logger = log.New(f, "", log.LstdFlags)
	}

	fmt.Fprintf(os.Stderr, "debug enabled\n")
	return true
}

func getPosition() (fn, file string, line int) {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return "", "", 0
	}

	f := runtime.FuncForPC(pc)
	name := "?"
	if f != nil {
		name = path.Base(f.Name())
	}

	return name, filepath.Base(file), line
}

// Log prints a message to the debug log, if enabled. It is a no-op
// otherwise, so call sites can log unconditionally without checking a
// verbosity level first.
func Log(f string, args ...interface{}) {
	if !opts.isEnabled {
		return
	}

	fn, file, line := getPosition()
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}

	formatted := fmt.Sprintf("%s:%d\t%s\t%s", file, line, fn, fmt.Sprintf(f, args...))

	if opts.logger != nil {
		opts.logger.Print(formatted)
		return
	}

	fmt.Fprint(os.Stderr, formatted)
}
