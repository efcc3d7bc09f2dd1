package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/lumberjack.v2"
)

// Options はログ出力の設定。
type Options struct {
	Level slog.Level
	// File が空でない場合、標準出力に加えてサイズでローテーションするファイルにも出力する。
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	l, _ := New(w, Options{Level: slog.LevelInfo})
	return l
}

// New はOptionsに従ったJSON構造化ログ出力のslog.Loggerを生成する。
// 戻り値のio.Closerはログファイルを閉じる。ファイル出力が無い場合は何もしない。
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer) {
	if w == nil {
		w = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		}
		w = io.MultiWriter(w, file)
		closer = file
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: opts.Level,
	})
	return slog.New(handler), closer
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w))
}

// ConfigureDefault はOptionsに従ったロガーをグローバルロガーとして設定する。
// 設定読み込み後に呼び出し、終了時に戻り値をCloseする。
func ConfigureDefault(w io.Writer, opts Options) io.Closer {
	l, closer := New(w, opts)
	slog.SetDefault(l)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
