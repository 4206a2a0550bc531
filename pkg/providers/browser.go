package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/harun/swarm/pkg/capability"
	"github.com/rs/zerolog"
)

// BrowserName is the registered name of the browser provider
const BrowserName = "browser_extract"

const (
	defaultBrowserTimeout = 45 * time.Second
	maxPageText           = 8000
)

// Page is what a fetcher extracts from a visited URL
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// PageFetcher visits a URL and extracts its content. step is called after
// every completed browser action.
type PageFetcher interface {
	Fetch(ctx context.Context, target string, step func()) (Page, error)
	Close() error
}

// Browser is the browser_extract provider
type Browser struct {
	fetcher PageFetcher
}

// NewBrowser wraps fetcher as a provider
func NewBrowser(fetcher PageFetcher) (*Browser, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	return &Browser{fetcher: fetcher}, nil
}

// Descriptor implements capability.Provider
func (b *Browser) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		Name: BrowserName,
		Description: "Open a web page in a real browser and extract its readable text. " +
			"Use it on URLs found by web_search to read their content.",
		InputSchema: capability.ObjectSchema(
			capability.Param{Name: "url", Type: "string", Description: "The page to open (http or https)", Required: true},
			capability.Param{Name: "instruction", Type: "string", Description: "What to look for on the page"},
		),
	}
}

type browserResult struct {
	Instruction string `json:"instruction,omitempty"`
	Page
}

// Invoke implements capability.Provider
func (b *Browser) Invoke(ctx context.Context, args map[string]interface{}, sc capability.SessionContext) (string, error) {
	target, _ := args["url"].(string)
	instruction, _ := args["instruction"].(string)

	if err := validatePageURL(target); err != nil {
		return "", err
	}

	task := instruction
	if task == "" {
		task = "read " + target
	}
	sc.Log(fmt.Sprintf("Browser starting task: \"%s\"", task))

	page, err := b.fetcher.Fetch(ctx, target, func() {
		sc.Log("[Browser Step] Action completed.")
	})
	if err != nil {
		return "", fmt.Errorf("browser task failed: %w", err)
	}
	page.Text = truncateText(page.Text, maxPageText)

	out, err := json.Marshal(browserResult{Instruction: instruction, Page: page})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Close releases the underlying browser
func (b *Browser) Close() error {
	return b.fetcher.Close()
}

func validatePageURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func truncateText(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "\n... (truncated)"
}

// RodConfig configures the go-rod fetcher
type RodConfig struct {
	// ControlURL attaches to a running browser; empty launches one
	ControlURL string
	ChromePath string
	Headless   bool
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// RodFetcher fetches pages through a Chrome instance driven by go-rod.
// The browser is started on first use and shared across calls.
type RodFetcher struct {
	cfg RodConfig

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRodFetcher creates a fetcher
func NewRodFetcher(cfg RodConfig) *RodFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBrowserTimeout
	}
	return &RodFetcher{cfg: cfg}
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.Headless)
		if f.cfg.ChromePath != "" {
			l = l.Bin(f.cfg.ChromePath)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	f.browser = browser

	f.cfg.Logger.Info().Str("control_url", controlURL).Msg("Browser connected")
	return browser, nil
}

// Fetch implements PageFetcher
func (f *RodFetcher) Fetch(ctx context.Context, target string, step func()) (Page, error) {
	browser, err := f.connect()
	if err != nil {
		return Page{}, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	timed := page.Timeout(f.cfg.Timeout)
	if err := timed.Navigate(target); err != nil {
		return Page{}, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := timed.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("failed to wait for page load: %w", err)
	}
	step()

	result := Page{URL: target}
	if info, err := timed.Info(); err == nil {
		result.Title = info.Title
		result.URL = info.URL
	}

	text, err := timed.Eval(`() => document.body.innerText`)
	if err != nil {
		return Page{}, fmt.Errorf("failed to extract text: %w", err)
	}
	result.Text = text.Value.String()
	step()

	return result, nil
}

// Close shuts the browser down
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}
