// Command blogman はブログのWebサーバー、セッションクリーンアップワーカー、
// データベース管理用のサブコマンドを提供する。
//
//	blogman [serve|worker|migrate|init-db|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/blogman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "blogman: %v\n", err)
		os.Exit(1)
	}
}
