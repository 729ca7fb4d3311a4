package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher recarrega o arquivo de políticas quando ele muda no disco. Observa o
// diretório (editores costumam trocar o arquivo por rename) e agrupa eventos
// próximos.
type Watcher struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration
	onChange func(*Bundle)

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
}

// NewWatcher não lê o arquivo; a carga inicial é responsabilidade de quem chama.
func NewWatcher(path string, logger *zap.Logger, onChange func(*Bundle)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		logger:   logger,
		debounce: defaultDebounce,
		onChange: onChange,
		watcher:  fw,
	}, nil
}

// SetDebounce altera o intervalo de agrupamento. Chamar antes de Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run bloqueia até ctx ser cancelado.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.logger.Info("policy file watcher started", zap.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	b, err := Load(w.path)
	if err != nil {
		w.logger.Error("policy reload rejected, keeping previous table",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("policy file reloaded",
		zap.String("path", w.path), zap.Int("policies", b.Table.Len()))
	if w.onChange != nil {
		w.onChange(b)
	}
}
