package exchange

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PriceSetter receives manual market prices.
type PriceSetter interface {
	SetPrice(price float64) error
}

// PriceFileWatcher follows a file holding the simulated market price and pushes
// every change to the gateway. The file holds either a bare number or
// `manual_market_price: <number>`.
type PriceFileWatcher struct {
	path   string
	target PriceSetter
	logger *zap.Logger
}

func NewPriceFileWatcher(path string, target PriceSetter, logger *zap.Logger) *PriceFileWatcher {
	return &PriceFileWatcher{path: path, target: target, logger: logger}
}

// ReadPriceFile parses a price file.
func ReadPriceFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(data))
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, nil
	}

	var doc struct {
		Price float64 `yaml:"manual_market_price"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse price file: %w", err)
	}
	if doc.Price <= 0 {
		return 0, fmt.Errorf("price file %s has no manual_market_price", path)
	}
	return doc.Price, nil
}

// Run applies the current file once, then follows changes until ctx is done.
func (w *PriceFileWatcher) Run(ctx context.Context) error {
	path, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	w.path = path

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w.apply()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.apply()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Price file watcher error", zap.Error(err))
		}
	}
}

func (w *PriceFileWatcher) apply() {
	price, err := ReadPriceFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("Failed to read price file", zap.String("path", w.path), zap.Error(err))
		}
		return
	}
	if err := w.target.SetPrice(price); err != nil {
		w.logger.Warn("Rejected price from file", zap.Float64("price", price), zap.Error(err))
		return
	}
	w.logger.Info("Simulated market price set", zap.Float64("price", price))
}
