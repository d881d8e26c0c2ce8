/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/
package logs

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	// Info is the logger for informational messages.
	Info *log.Logger
	// Warn is the logger for warnings.
	Warn *log.Logger
	// Err is the logger for errors.
	Err *log.Logger
)

func init() {
	// Make the loggers usable before Init is called, e.g. in tests.
	Init(os.Stderr, "stdFlags")
}

// Init initializes the loggers with the given output and a comma-separated
// list of log flags: stdFlags, date, time, microseconds, UTC, longfile, shortfile.
func Init(out io.Writer, flagStr string) {
	var flags int
	for _, str := range strings.Split(flagStr, ",") {
		switch strings.TrimSpace(str) {
		case "stdFlags":
			flags |= log.LstdFlags
		case "date":
			flags |= log.Ldate
		case "time":
			flags |= log.Ltime
		case "microseconds":
			flags |= log.Lmicroseconds
		case "UTC":
			flags |= log.LUTC
		case "longfile":
			flags |= log.Llongfile
		case "shortfile":
			flags |= log.Lshortfile
		}
	}

	Info = log.New(out, "I", flags)
	Warn = log.New(out, "W", flags)
	Err = log.New(out, "E", flags)
}
