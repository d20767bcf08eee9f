package main

import (
	"fmt"
	"runtime"

	"github.com/vidgrab/vidgrab-shell/internal/version"
)

// printVersion 输出版本、提交与构建所用 Go 版本，排查离线外壳问题时一并附上。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(stdOut, "config env: %s\n", configEnv)
}
