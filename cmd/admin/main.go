package main

import (
	"os"
)

// main 是运维命令行的入口：创建管理员、执行迁移、校正申请计数。
func main() {
	a := &app{}
	defer a.close()
	if err := newRootCmd(a).Execute(); err != nil {
		a.close()
		os.Exit(1)
	}
}
