package gate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher はアクセス方針ファイルの変更を監視し、Storeへ反映する。
// エディタの保存はrename/createになることがあるため、ファイルではなくディレクトリを監視する。
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	// テスト用に差し替え可能な通知
	onReload func(*Policy, error)
}

// NewWatcher はWatcherを生成する。
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		debounce: defaultDebounce,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run はctxがキャンセルされるまで変更を監視する。
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("gate policy watcher error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

// reload は方針ファイルを読み直す。不正なファイルの場合は以前の方針を維持する。
func (w *Watcher) reload() {
	p, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.Warn("アクセス方針の再読み込みに失敗しました。以前の方針を継続します",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	} else {
		w.store.Swap(p)
		w.logger.Info("アクセス方針を再読み込みしました",
			slog.String("path", w.path),
			slog.Int("public_paths", len(p.PublicPaths)),
		)
	}
	if w.onReload != nil {
		w.onReload(p, err)
	}
}
