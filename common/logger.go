package common

import (
	"fmt"
	"log"
	"os"
	"time"
)

func SysLog(s string) {
	t := time.Now()
	_, _ = fmt.Fprintf(os.Stderr, "[SYS] %v | %s \n", t.Format("2006/01/02 - 15:04:05"), s)
}

func SysError(s string) {
	t := time.Now()
	_, _ = fmt.Fprintf(os.Stderr, "[SYS] %v | ERROR: %s \n", t.Format("2006/01/02 - 15:04:05"), s)
}

func FatalLog(v ...any) {
	t := time.Now()
	_, _ = fmt.Fprintf(os.Stderr, "[FATAL] %v | %v \n", t.Format("2006/01/02 - 15:04:05"), v)
	log.Fatal(v...)
}
