package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/dealerdesk/internal/config"
	"github.com/hitoshi/dealerdesk/internal/model"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandToken は開発・運用向けにアクセストークンを発行することを示す。
	CommandToken Command = "token"
)

// tokenOptions はtokenサブコマンドのフラグ。
type tokenOptions struct {
	UserID int64
	Role   string
	TTL    time.Duration
}

// commandSet は各サブコマンドの実処理。テストで差し替える。
type commandSet struct {
	init        func(w io.Writer) (*config.Config, io.Closer, error)
	serve       func(ctx context.Context, cfg *config.Config) error
	migrate     func(cfg *config.Config) error
	healthcheck func(port string) error
	token       func(out io.Writer, cfg *config.Config, opts tokenOptions) error
}

func defaultCommandSet() commandSet {
	return commandSet{
		init:        Init,
		serve:       runServe,
		migrate:     runMigrate,
		healthcheck: runHealthcheck,
		token:       runToken,
	}
}

// newRootCommand はサブコマンドを登録したルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func newRootCommand(w io.Writer, cs commandSet) *cobra.Command {
	withConfig := func(fn func(cmd *cobra.Command, cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := cs.init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			defer closer.Close()
			return fn(cmd, cfg)
		}
	}

	serve := withConfig(func(cmd *cobra.Command, cfg *config.Config) error {
		logStart(CommandServe, cfg)
		return cs.serve(cmd.Context(), cfg)
	})

	root := &cobra.Command{
		Use:           "dealerdesk",
		Short:         "Attendance and daily task tracker for dealership staff",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.SetOut(w)

	root.AddCommand(&cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config) error {
			logStart(CommandMigrate, cfg)
			return cs.migrate(cfg)
		}),
	})

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	root.AddCommand(&cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe GET /health on the local server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return cs.healthcheck(port)
		},
	})

	opts := tokenOptions{}
	tokenCmd := &cobra.Command{
		Use:   string(CommandToken),
		Short: "Issue a signed access token for a user",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config) error {
			if opts.UserID <= 0 {
				return errors.New("--user must be a positive user id")
			}
			if opts.TTL <= 0 {
				return errors.New("--ttl must be positive")
			}
			switch model.Role(opts.Role) {
			case model.RoleAdmin, model.RoleEmployee:
			default:
				return fmt.Errorf("unknown role %q", opts.Role)
			}
			return cs.token(cmd.OutOrStdout(), cfg, opts)
		}),
	}
	tokenCmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id to embed in the token")
	tokenCmd.Flags().StringVar(&opts.Role, "role", string(model.RoleEmployee), "role claim (employee|admin)")
	tokenCmd.Flags().DurationVar(&opts.TTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user")
	root.AddCommand(tokenCmd)

	return root
}
