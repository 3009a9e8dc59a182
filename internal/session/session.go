// Package session acquires authenticated portal sessions by driving a
// headless browser through the login form.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Config controls the login flow.
type Config struct {
	BaseURL     string
	LoginPath   string
	Username    string
	Password    string
	UserAgent   string
	NavTimeout  time.Duration
	StepTimeout time.Duration
}

// Provider implements monitor.SessionProvider using chromedp. Each
// Acquire spins up its own browser allocator; the returned session's
// Close tears it down, so browser resources are scoped to one cycle.
type Provider struct {
	cfg    Config
	logger *zap.Logger
}

// NewProvider builds a Provider. Credentials are required up front so a
// misconfigured deployment fails at startup, not on the first cycle.
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("portal credentials are required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 20 * time.Second
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

// Acquire logs into the portal and returns an authenticated session.
// A credential rejection surfaces as *monitor.AuthError; everything else
// (navigation failures, timeouts) is transient and wrapped.
func (p *Provider) Acquire(ctx context.Context) (*monitor.Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	release := func() {
		taskCancel()
		allocCancel()
	}

	html, err := p.submitLogin(taskCtx)
	if err != nil {
		release()
		return nil, err
	}

	switch state, reason := classifyLoginPage(html); state {
	case loginSucceeded:
		cookies, err := exportCookies(taskCtx, p.cfg.StepTimeout)
		if err != nil {
			release()
			return nil, fmt.Errorf("export session cookies: %w", err)
		}
		p.logger.Info("portal login succeeded", zap.Int("cookies", len(cookies)))
		return monitor.NewSession(cookies, release), nil
	case loginRejected:
		release()
		p.logger.Warn("portal rejected credentials", zap.String("reason", reason))
		return nil, &monitor.AuthError{Reason: reason}
	default:
		release()
		return nil, fmt.Errorf("login outcome indeterminate: no post-login marker found")
	}
}

// submitLogin navigates to the login form, fills it, submits, and
// returns the resulting document. Navigation and form steps run under
// separate timeouts so a stuck page load cannot consume the whole cycle.
func (p *Provider) submitLogin(taskCtx context.Context) (string, error) {
	loginURL := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.LoginPath

	navCtx, navCancel := context.WithTimeout(taskCtx, p.cfg.NavTimeout)
	defer navCancel()
	err := chromedp.Run(navCtx,
		p.userAgentAction(),
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[name="identity"]`, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("load login page: %w", err)
	}

	var html string
	stepCtx, stepCancel := context.WithTimeout(taskCtx, p.cfg.StepTimeout)
	defer stepCancel()
	err = chromedp.Run(stepCtx,
		chromedp.SendKeys(`input[name="identity"]`, p.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, p.cfg.Password, chromedp.ByQuery),
		chromedp.Submit(`input[name="password"]`, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("submit login form: %w", err)
	}
	return html, nil
}

func (p *Provider) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// exportCookies pulls the browser's cookie jar so subsequent plain HTTP
// fetches can reuse the authenticated session.
func exportCookies(taskCtx context.Context, timeout time.Duration) ([]*http.Cookie, error) {
	ctx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var cookies []*http.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		cookies = make([]*http.Cookie, 0, len(raw))
		for _, c := range raw {
			cookies = append(cookies, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HttpOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

type loginState int

const (
	loginIndeterminate loginState = iota
	loginSucceeded
	loginRejected
)

// classifyLoginPage decides the login outcome from the post-submit
// document. The portal renders a logout link once authenticated and an
// #infoMessage box when it rejects the credentials.
func classifyLoginPage(html string) (loginState, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return loginIndeterminate, ""
	}

	hasLogout := false
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if strings.Contains(strings.ToLower(href), "logout") ||
			strings.EqualFold(strings.TrimSpace(sel.Text()), "logout") {
			hasLogout = true
			return false
		}
		return true
	})
	if hasLogout {
		return loginSucceeded, ""
	}

	if msg := strings.TrimSpace(doc.Find("#infoMessage").Text()); msg != "" {
		return loginRejected, msg
	}
	// Still on the login form with no error box rendered: the portal
	// bounced us back, which only happens for bad credentials.
	if doc.Find(`input[name="identity"]`).Length() > 0 {
		return loginRejected, "returned to login form"
	}
	return loginIndeterminate, ""
}
