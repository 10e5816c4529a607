package host

import (
	"context"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ScriptRunner is the narrow surface the pipeline uses to drive a page:
// evaluate an expression (optionally unmarshalling its JSON result) and click
// an element. Kept as an interface so the strategy ladders are testable
// without a browser.
type ScriptRunner interface {
	Evaluate(ctx context.Context, h *Handle, expr string, out any) error
	Click(ctx context.Context, h *Handle, selector string) error
}

// CDPRunner executes against the handle's chromedp context.
type CDPRunner struct{}

func (CDPRunner) Evaluate(ctx context.Context, h *Handle, expr string, out any) error {
	return chromedp.Run(h.Ctx, chromedp.Evaluate(expr, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
}

func (CDPRunner) Click(ctx context.Context, h *Handle, selector string) error {
	return chromedp.Run(h.Ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}
