package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hitoshi/codex/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// runner は設定を受け取って起動モードを実行する関数。テストで差し替える。
type runner func(cfg *config.Config) error

var runners = map[Command]runner{
	CommandServe:   runServe,
	CommandWorker:  runWorker,
	CommandMigrate: runMigrate,
}

// NewRootCommand はcodexのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "codex",
		Short:         "Codex - 読書記録と読書グループのWebアプリケーション",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newModeCommand(w, CommandServe, "Webサーバーを起動する"),
		newModeCommand(w, CommandWorker, "発見フィードの取得とクリーンアップジョブを起動する"),
		newModeCommand(w, CommandMigrate, "未適用のマイグレーションを適用する"),
		newHealthcheckCommand(),
	)
	return root
}

func newModeCommand(w io.Writer, mode Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(w, mode)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みをスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "稼働中のサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", defaultPort(), "確認するポート")
	return cmd
}

// start は設定を読み込み、指定された起動モードを実行する。
func start(w io.Writer, mode Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(mode)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return runners[mode](cfg)
}
