// Command dealerdesk はディーラースタッフ向けの勤怠・日次タスク管理APIサーバー。
//
// 使い方:
//
//	dealerdesk [serve]                     APIサーバーを起動する
//	dealerdesk migrate                     マイグレーションを適用する
//	dealerdesk healthcheck                 ローカルの /health を確認する
//	dealerdesk token --user ID [--role R]  アクセストークンを発行する
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/dealerdesk/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
