package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"tourflow/internal/executor"
	"tourflow/internal/navigator"
	"tourflow/internal/steps"
	"tourflow/pkg/chrome"
)

const (
	DefaultHighlightTTL = 45 * time.Second

	setupTimeout      = 45 * time.Second
	clickPollInterval = 200 * time.Millisecond
)

// Options configures a browser tab session.
type Options struct {
	TargetURL string
	Viewport  chrome.ViewportPreset
	Headful   bool

	// ReuseBrowser attaches a tab in the shared authoring instance
	// instead of launching a dedicated Chrome process.
	ReuseBrowser bool

	// Key names the Chrome process for a dedicated launch. Defaults to a
	// fresh UUID.
	Key string

	// HighlightTTL bounds how long a replay highlight stays up without a
	// newer one replacing it. The default comfortably outlives a guided
	// wait.
	HighlightTTL time.Duration
}

// Session is one Chrome tab: the recorder drains events from it, the
// selector engine probes it, and the executor drives it. The injected
// scripts all flow through Evaluate, which is the only chromedp boundary.
type Session struct {
	TargetURL string
	Preset    chrome.ViewportPreset

	procKey      string
	ctx          context.Context
	tabCancel    context.CancelFunc
	allocCancel  context.CancelFunc
	nav          *navigator.Manager
	highlightTTL time.Duration
	closeOnce    sync.Once
}

// NewSession launches (or reuses) a Chrome process, attaches a tab showing
// opts.TargetURL, and applies the viewport emulation.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.TargetURL == "" {
		return nil, fmt.Errorf("target url is required")
	}
	vp := opts.Viewport
	if vp.Name == "" {
		vp = chrome.PresetByName("")
	}
	key := opts.Key
	if key == "" {
		key = uuid.New().String()
	}
	ttl := opts.HighlightTTL
	if ttl <= 0 {
		ttl = DefaultHighlightTTL
	}

	var (
		proc        *chrome.Process
		attachFirst bool
		err         error
	)
	if opts.ReuseBrowser {
		var reused bool
		proc, reused, err = chrome.GlobalManager.AcquireAuthoring(vp, opts.TargetURL)
		// A freshly launched browser already shows the target URL in its
		// first tab; a reused one gets a new tab and navigates.
		attachFirst = !reused
	} else {
		proc, err = chrome.GlobalManager.Launch(key, vp, opts.Headful, opts.TargetURL)
		attachFirst = true
	}
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), proc.DebugURL())

	var tabCtx context.Context
	var tabCancel context.CancelFunc
	if attachFirst {
		id, terr := firstPageTarget(proc.Port)
		if terr != nil {
			allocCancel()
			chrome.GlobalManager.Stop(proc.Key)
			return nil, terr
		}
		tabCtx, tabCancel = chromedp.NewContext(allocCtx,
			chromedp.WithTargetID(target.ID(id)),
			chromedp.WithLogf(func(string, ...interface{}) {}))
	} else {
		tabCtx, tabCancel = chromedp.NewContext(allocCtx,
			chromedp.WithLogf(func(string, ...interface{}) {}))
	}

	s := &Session{
		TargetURL:    opts.TargetURL,
		Preset:       vp,
		procKey:      proc.Key,
		ctx:          tabCtx,
		tabCancel:    tabCancel,
		allocCancel:  allocCancel,
		highlightTTL: ttl,
	}
	s.nav = navigator.NewManager(tabCtx, s, navigator.Options{})

	acts := []chromedp.Action{chromedp.Emulate(vp.Device())}
	if !attachFirst {
		acts = append(acts, chromedp.Navigate(opts.TargetURL))
	}
	acts = append(acts, chromedp.WaitReady("body", chromedp.ByQuery))

	// The caller's context can abort a slow setup; after that the session
	// lives until Close.
	setupCtx, cancel := context.WithTimeout(tabCtx, setupTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(setupCtx, acts...); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare tab for %s: %w", opts.TargetURL, err)
	}

	log.Printf("📄 Tab session ready on %s (chrome=%s, viewport=%s)", opts.TargetURL, proc.Key, vp.Name)
	return s, nil
}

// firstPageTarget finds the tab Chrome opened at launch. Right after
// startup the target list can be briefly empty, so it retries.
func firstPageTarget(port int) (string, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/json", port)
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if attempt > 0 {
			time.Sleep(300 * time.Millisecond)
		}
		resp, err := client.Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		var tabs []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			URL  string `json:"url"`
		}
		err = json.NewDecoder(resp.Body).Decode(&tabs)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		for _, tab := range tabs {
			if tab.Type == "page" {
				return tab.ID, nil
			}
		}
		lastErr = fmt.Errorf("no page target among %d targets", len(tabs))
	}
	return "", fmt.Errorf("find launch tab on port %d: %w", port, lastErr)
}

// Evaluate runs a script in the tab and unmarshals its result. The caller's
// context bounds the evaluation without outliving the tab.
func (s *Session) Evaluate(ctx context.Context, expr string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, chromedp.Evaluate(expr, out))
}

// Close shuts the tab down and stops its Chrome process. The shared
// authoring browser survives; the chrome manager keeps it for the next
// session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		chrome.GlobalManager.Stop(s.procKey)
		log.Printf("🧹 Tab session on %s closed", s.TargetURL)
	})
	return nil
}

// Perform executes one step with the given intent. Show presents the step
// (scroll plus highlight); Do carries out the recorded interaction.
func (s *Session) Perform(ctx context.Context, st steps.Step, intent executor.Intent) error {
	switch intent {
	case executor.IntentShow:
		return s.show(ctx, st)
	case executor.IntentDo:
		return s.do(ctx, st)
	}
	return fmt.Errorf("unknown intent %q", intent)
}

func (s *Session) show(ctx context.Context, st steps.Step) error {
	if st.Selector == "" {
		return nil
	}
	if _, err := s.nav.EnsureVisible(ctx, st.Selector); err != nil {
		return err
	}
	_, err := s.nav.HighlightFor(ctx, st.Selector, st.Description, s.highlightTTL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, navigator.ErrNoMatch):
		if st.Action == steps.ActionNavigate {
			// The recorded link is gone, but do still reaches the URL.
			log.Printf("🧭 Link %q not on this page, highlight skipped", st.Selector)
			return nil
		}
		return fmt.Errorf("%w: %q", executor.ErrNoMatch, st.Selector)
	case errors.Is(err, navigator.ErrDegenerateGeometry):
		// The target exists but has no layout. Skip the visual and let
		// the action decide the step's fate.
		log.Printf("⚠️ Highlight skipped for %q: %v", st.Selector, err)
		return nil
	}
	return err
}

func (s *Session) do(ctx context.Context, st steps.Step) error {
	switch st.Action {
	case steps.ActionButton:
		return s.click(ctx, st.Selector)
	case steps.ActionFormFill:
		return s.fill(ctx, st.Selector, st.Value)
	case steps.ActionNavigate:
		if st.Selector != "" {
			if err := s.click(ctx, st.Selector); err == nil {
				return s.waitReady(ctx)
			}
			log.Printf("🧭 Recorded link %q not found, navigating to %s directly", st.Selector, st.Value)
		}
		return s.navigate(ctx, st.Value)
	case steps.ActionHover:
		return s.hover(ctx, st.Selector)
	}
	// Highlights and notes have no do side.
	return nil
}

// WaitForClick blocks until a trusted click lands anywhere in the tab. A
// document swap mid-wait means the viewer's click navigated before the
// poll saw it, so it counts as the advance.
func (s *Session) WaitForClick(ctx context.Context) error {
	var ok bool
	if err := s.Evaluate(ctx, sentinelInstallScript(), &ok); err != nil {
		return err
	}

	ticker := time.NewTicker(clickPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var state struct {
				Installed bool `json:"installed"`
				Clicked   bool `json:"clicked"`
			}
			if err := s.Evaluate(ctx, sentinelPollScript(), &state); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if state.Clicked {
				return nil
			}
			if !state.Installed {
				log.Printf("🧭 Guided wait saw a navigation, treating it as the advance")
				return nil
			}
		}
	}
}

// ClearHighlight removes the active overlay, if any.
func (s *Session) ClearHighlight(ctx context.Context) error {
	return s.nav.Remove(ctx)
}

func (s *Session) click(ctx context.Context, sel string) error {
	var ok bool
	if err := s.Evaluate(ctx, clickScript(sel), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", executor.ErrNoMatch, sel)
	}
	return nil
}

func (s *Session) fill(ctx context.Context, sel, value string) error {
	var ok bool
	if err := s.Evaluate(ctx, fillScript(sel, value), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", executor.ErrNoMatch, sel)
	}
	return nil
}

func (s *Session) hover(ctx context.Context, sel string) error {
	var ok bool
	if err := s.Evaluate(ctx, hoverScript(sel), &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", executor.ErrNoMatch, sel)
	}
	return nil
}

func (s *Session) navigate(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("navigate step has no url")
	}
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) waitReady(ctx context.Context) error {
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, chromedp.WaitReady("body", chromedp.ByQuery))
}
