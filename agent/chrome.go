package agent

import (
	"context"
	"fmt"
	"time"

	"relay/interfaces"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	actionTimeout     = 30 * time.Second
	navigationTimeout = 60 * time.Second
	indexAttr         = "data-relay-idx"
)

// snapshotJS は可視の操作可能な要素に番号を振り、ページの要約を返します。
const snapshotJS = `(() => {
	const attr = '` + indexAttr + `';
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	const selector = 'a[href], button, input:not([type=hidden]), textarea, select, [role=button], [role=link], [contenteditable=true]';
	const elements = [];
	let i = 0;
	for (const el of document.querySelectorAll(selector)) {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		if (rect.width === 0 || rect.height === 0 || style.visibility === 'hidden' || style.display === 'none') continue;
		el.setAttribute(attr, String(i));
		const label = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || el.getAttribute('title') || el.getAttribute('href') || '').trim().replace(/\s+/g, ' ').slice(0, 80);
		let tag = el.tagName.toLowerCase();
		if (tag === 'input') tag += '[' + (el.type || 'text') + ']';
		elements.push({index: i, tag: tag, label: label});
		i++;
	}
	return {
		url: location.href,
		title: document.title,
		text: document.body ? document.body.innerText : '',
		elements: elements,
	};
})()`

// ChromeOptions はブラウザの起動設定です。
type ChromeOptions struct {
	Headless bool
}

// Chrome は chromedp でローカルの Chrome を操作する Browser です。
type Chrome struct {
	log         interfaces.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChrome はブラウザを起動します。Close で終了させる必要があります。
func NewChrome(parent context.Context, log interfaces.Logger, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1280, 900),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// 最初の Run でブラウザプロセスが起動する
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}
	log.Info("Chrome launched", "headless", opts.Headless)
	return &Chrome{log: log, ctx: ctx, cancel: cancel, allocCancel: allocCancel}, nil
}

// run はブラウザのコンテキストで actions を実行します。ctx のキャンセルにも従います。
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (c *Chrome) Snapshot(ctx context.Context) (Page, error) {
	var page Page
	if err := c.run(ctx, actionTimeout, chromedp.Evaluate(snapshotJS, &page)); err != nil {
		return Page{}, err
	}
	return page, nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, navigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func selectorFor(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, indexAttr, index)
}

func (c *Chrome) Click(ctx context.Context, index int) error {
	sel := selectorFor(index)
	if err := c.run(ctx, actionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.Sleep(500*time.Millisecond),
	); err != nil {
		return fmt.Errorf("click on element %d failed: %w", index, err)
	}
	return nil
}

func (c *Chrome) Type(ctx context.Context, index int, text string, submit bool) error {
	sel := selectorFor(index)
	actions := []chromedp.Action{
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	}
	if submit {
		actions = append(actions, chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery), chromedp.Sleep(time.Second))
	}
	if err := c.run(ctx, actionTimeout, actions...); err != nil {
		return fmt.Errorf("typing into element %d failed: %w", index, err)
	}
	return nil
}

func (c *Chrome) Scroll(ctx context.Context, down bool) error {
	dir := 1
	if !down {
		dir = -1
	}
	script := fmt.Sprintf("window.scrollBy(0, %d * Math.round(window.innerHeight * 0.8))", dir)
	return c.run(ctx, actionTimeout, chromedp.Evaluate(script, nil))
}

func (c *Chrome) Back(ctx context.Context) error {
	return c.run(ctx, navigationTimeout, chromedp.NavigateBack())
}

// Close はタブとブラウザプロセスを終了します。
func (c *Chrome) Close() error {
	c.cancel()
	c.allocCancel()
	return nil
}
