// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package render

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/diffeo/go-webprint/webprint"
	"github.com/sirupsen/logrus"
)

// desktopUserAgent is presented to rendered pages; some sites serve
// an unusable shell to obviously-headless agents.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// settleTime is extra time given to pages after load for late
// JavaScript rendering.
const settleTime = 2 * time.Second

// a4WidthInches and a4HeightInches are the print-to-PDF paper size.
const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
	marginInches   = 0.2
)

// captchaMarkers are title substrings of common anti-bot
// interstitials.
var captchaMarkers = []string{
	"captcha",
	"just a moment",
	"attention required",
	"are you a robot",
}

// Chrome is a Renderer that launches headless Chrome through a
// long-lived allocator.  Each render starts its own browser process
// and stops it when the render returns; no browser stays running
// between renders.  It is safe to share, but renders are serialized
// by the worker, one browser at a time.
type Chrome struct {
	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChrome creates a Chrome renderer.  The allocator is set up
// lazily on the first render; each render then starts its own
// browser process.
func NewChrome() *Chrome {
	return &Chrome{}
}

// initialize starts the browser allocator with the same hardening
// flags the container deployment needs.
func (c *Chrome) initialize() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(desktopUserAgent),
	)
	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	logrus.Info("headless browser allocator initialized")
}

// Close cancels the allocator, stopping any browser process it still
// runs.
func (c *Chrome) Close() error {
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}

// Render implements Renderer.  Each call runs in a freshly launched
// browser process which is shut down afterwards.
func (c *Chrome) Render(ctx context.Context, url string, mode webprint.RenderMode, navigationTimeout time.Duration, outputPath string) error {
	c.once.Do(c.initialize)

	tabCtx, cancelTab := chromedp.NewContext(c.allocCtx)
	defer cancelTab()

	// Chain the caller's cancellation and deadline into the tab.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-done:
		}
	}()

	navCtx, cancelNav := context.WithTimeout(tabCtx, navigationTimeout)
	defer cancelNav()
	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Error{Code: webprint.CodeRenderFailed, Message: "navigation failed: " + err.Error()}
	}
	if resp != nil && resp.Status >= 400 && resp.Status < 500 {
		return Error{Code: webprint.CodeHTTP4xx, Message: "server returned " + resp.StatusText}
	}

	// Give late JavaScript a moment, then look for anti-bot
	// interstitials before spending time on PDF generation.
	var title string
	err = chromedp.Run(tabCtx,
		chromedp.Sleep(settleTime),
		chromedp.Title(&title),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Error{Code: webprint.CodeRenderFailed, Message: err.Error()}
	}
	lowered := strings.ToLower(title)
	for _, marker := range captchaMarkers {
		if strings.Contains(lowered, marker) {
			return Error{Code: webprint.CodeCaptchaDetected, Message: "anti-bot page detected: " + title}
		}
	}

	switch mode {
	case webprint.ScreenshotToPDF:
		err = c.screenshotToPDF(tabCtx, outputPath)
	default:
		err = c.printToPDF(tabCtx, outputPath)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, isRender := err.(Error); isRender {
			return err
		}
		return Error{Code: webprint.CodeRenderFailed, Message: err.Error()}
	}
	return nil
}

// printToPDF renders via the browser's print engine: A4, backgrounds
// on, no header or footer.
func (c *Chrome) printToPDF(tabCtx context.Context, outputPath string) error {
	return chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithDisplayHeaderFooter(false).
			WithPaperWidth(a4WidthInches).
			WithPaperHeight(a4HeightInches).
			WithMarginTop(marginInches).
			WithMarginBottom(marginInches).
			WithMarginLeft(marginInches).
			WithMarginRight(marginInches).
			Do(ctx)
		if err != nil {
			return err
		}
		return os.WriteFile(outputPath, buf, 0644)
	}))
}

// screenshotToPDF takes a full-page screenshot and wraps it into a
// single-page PDF sized to the image.
func (c *Chrome) screenshotToPDF(tabCtx context.Context, outputPath string) error {
	var shot []byte
	err := chromedp.Run(tabCtx, chromedp.FullScreenshot(&shot, 100))
	if err != nil {
		return err
	}
	return imageToPDF(shot, outputPath)
}
