// Package browser provides the headless browser driver used by the Visual
// Diff component, adapted from the pack's go-rod session-manager idiom down
// to the single operation the Walker needs: full-page screenshot of a URL.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Driver renders a URL and returns a full-page PNG screenshot.
type Driver interface {
	Screenshot(ctx context.Context, url string, width, height int, settleAfterLoad time.Duration) ([]byte, error)
	Close() error
}

// rodDriver launches one headless Chrome instance and reuses it across
// screenshots for the lifetime of a capture run.
type rodDriver struct {
	browser *rod.Browser
}

// NewRodDriver launches a headless browser instance.
func NewRodDriver() (Driver, error) {
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launching headless browser: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	return &rodDriver{browser: b}, nil
}

// Screenshot navigates to url, waits for network idle, then an additional
// settleAfterLoad for late hydration, and captures a full-page PNG (spec
// §4.8.3: 1920x1080, full-page, networkidle, +2s).
func (d *rodDriver) Screenshot(ctx context.Context, url string, width, height int, settleAfterLoad time.Duration) ([]byte, error) {
	page, err := d.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	}); err != nil {
		return nil, fmt.Errorf("setting viewport: %w", err)
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)(); err != nil {
		return nil, fmt.Errorf("waiting for network idle at %s: %w", url, err)
	}
	time.Sleep(settleAfterLoad)

	data, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot of %s: %w", url, err)
	}
	return data, nil
}

func (d *rodDriver) Close() error {
	return d.browser.Close()
}
