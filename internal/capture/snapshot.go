// Package capture renders the countdown page in headless Chromium and
// stores it as a PNG.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// Defaults sized for a small landscape display.
const (
	DefaultWidth   = 800
	DefaultHeight  = 480
	DefaultTimeout = 30 * time.Second
)

// Options defines one snapshot.
type Options struct {
	// URL of the countdown page, e.g. "http://127.0.0.1:8080/?username=rj".
	URL string

	// OutputPath receives the PNG. It is replaced atomically.
	OutputPath string

	// Width and Height are the viewport in pixels.
	Width  int
	Height int

	// Timeout bounds the whole capture, browser start included.
	Timeout time.Duration

	// AllocatorOptions are passed to chromedp when launching the browser.
	AllocatorOptions []chromedp.ExecAllocatorOption
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if len(o.AllocatorOptions) == 0 {
		o.AllocatorOptions = chromedp.DefaultExecAllocatorOptions[:]
	}
	return nil
}

// Snapshot navigates to opts.URL, waits until the page marks itself
// `data-ready="true"` and writes a screenshot of the viewport.
func Snapshot(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts.AllocatorOptions...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Let the first stream tick paint.
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.CaptureScreenshot(&png),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	return writeFileAtomic(opts.OutputPath, png)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.png")
	if err != nil {
		return fmt.Errorf("capture: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("capture: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("capture: replace %s: %w", path, err)
	}
	return nil
}
