package configs

import (
	"fmt"
	"github.com/goccy/go-json"
	"log"
	"strconv"
	"time"
)

func TxnPrint(tid uint64, format string, a ...interface{}) {
	if ShowDebugInfo {
		line := time.Now().Format("15:04:05.00") + " <---> " + "TXN" + strconv.FormatUint(tid, 10) + ":" + format + "\n"
		if !LogToFile {
			fmt.Printf(line, a...)
		} else {
			log.Printf(line, a...)
		}
	}
}

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		line := time.Now().Format("15:04:05.00") + " <---> " + format + "\n"
		if !LogToFile {
			fmt.Printf(line, a...)
		} else {
			log.Printf(line, a...)
		}
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		line := time.Now().Format("15:04:05.00") + " <---> " + format + "\n"
		if !LogToFile {
			fmt.Printf(line, a...)
		} else {
			log.Printf(line, a...)
		}
	}
}

// TimeTrack logs the elapsed time for a named phase of processing a batch.
func TimeTrack(start time.Time, name string, txnID uint64) {
	TPrintf("TXN" + strconv.FormatUint(txnID, 10) + ": time cost for " + name + " : " + time.Since(start).String())
}

func JToString(v interface{}) string {
	byt, _ := json.Marshal(v)
	return string(byt)
}

func JPrint(v interface{}) {
	if !ShowDebugInfo {
		return
	}
	byt, _ := json.Marshal(v)
	fmt.Println(string(byt))
}

// Assert is the Fatal error-handling path of §7: an invariant violation
// aborts the process instead of being tolerated, because it indicates a
// safety bug rather than Byzantine/network noise.
func Assert(cond bool, msg string) bool {
	if !cond {
		panic("[ERROR] assertion failed: " + msg)
	}
	return cond
}

// Warn records a non-fatal anomaly (dropped message, duplicate vote,
// out-of-window txn_id, ...) without ever propagating an error to the
// network, per §7's "errors are local" rule.
func Warn(cond bool, msg string) bool {
	if ShowWarnings && !cond {
		line := "[WARNING] " + msg + "\n"
		if !LogToFile {
			fmt.Print(line)
		} else {
			log.Print(line)
		}
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		panic(err.Error())
	}
}
