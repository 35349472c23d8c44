package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
)

// BrowserStrategy renders the page in a headless browser before extracting
// text, so JavaScript-built content is visible. The browser launches lazily
// on first use and is shared across extractions.
type BrowserStrategy struct {
	mu      sync.Mutex
	browser *rod.Browser
	initErr error
	once    sync.Once
}

// NewBrowserStrategy creates the strategy without launching a browser.
func NewBrowserStrategy() *BrowserStrategy {
	return &BrowserStrategy{}
}

func (s *BrowserStrategy) Name() string { return "browser" }

func (s *BrowserStrategy) connect() (*rod.Browser, error) {
	s.once.Do(func() {
		controlURL, err := launcher.New().Headless(true).Launch()
		if err != nil {
			s.initErr = fmt.Errorf("launching headless browser: %w", err)
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			s.initErr = fmt.Errorf("connecting to browser: %w", err)
			return
		}
		s.browser = browser
	})
	return s.browser, s.initErr
}

// Extract implements Strategy.
func (s *BrowserStrategy) Extract(ctx context.Context, url string) (string, error) {
	browser, err := s.connect()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", url, err)
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("waiting for page load: %w", err)
	}

	rendered, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("reading rendered HTML: %w", err)
	}

	doc, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return "", fmt.Errorf("parsing rendered HTML: %w", err)
	}
	if text := containerText(doc); len(text) >= MinValidChars {
		return text, nil
	}
	return documentText(doc), nil
}

// Close shuts the shared browser down, if one was launched.
func (s *BrowserStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}
