package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"PPRelay/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	current  Config
	configMu sync.RWMutex
)

func SetCurrent(c Config) {
	configMu.Lock()
	defer configMu.Unlock()
	current = c
}

func Current() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return current
}

// Watch 监听配置文件变化，重新加载后调用 onChange。加载失败时保留旧配置。
// 监听的是所在目录，编辑器 rename 替换文件也能收到事件。阻塞直到 ctx 结束。
func Watch(ctx context.Context, path, envFile string, onChange func(old, cur Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	// 合并短时间内的多次写事件
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			next, err := Load(path, envFile)
			if err != nil {
				logger.Warn("[config] reload failed, keep old config", zap.String("path", path), zap.Error(err))
				continue
			}
			old := Current()
			SetCurrent(next)
			logger.Info("[config] reloaded", zap.String("path", path))
			if onChange != nil {
				onChange(old, next)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[config] watcher error", zap.Error(err))
		}
	}
}
