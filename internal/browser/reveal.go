package browser

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"
)

// triedAttr marks an element that was already clicked this pass, so later
// strategies never re-interact with it.
const triedAttr = "data-unmask-tried"

// revealSelectors are disclosure markers across the seller-center versions
// observed in the wild, highest-confidence first.
var revealSelectors = []string{
	`[data-log_click_for="open_phone_plaintext"]`,
	`button[class*="reveal"]`,
	`[class*="unmask"]`,
	`[class*="show-phone"]`,
	`[class*="view-detail"]`,
}

// revealWords match generic disclosure controls by their visible label.
var revealWords = []string{"reveal", "show", "view"}

// Reveal runs the ordered disclosure strategies and returns how many clicks
// were performed. Zero only means nothing further was available to disclose;
// extraction proceeds on whatever is visible. Strategies:
//
//  1. known disclosure-marker selectors
//  2. generic controls labeled reveal/show/view
//  3. clickable elements adjacent to fragments still carrying a mask run
func (s *Session) Reveal(ctx context.Context) (int, error) {
	total := 0

	for _, sel := range revealSelectors {
		n, err := s.clickMatching(ctx, sel)
		total += n
		if err != nil {
			return total, err
		}
	}

	n, err := s.clickLabeled(ctx)
	total += n
	if err != nil {
		return total, err
	}

	n, err = s.clickAdjacentToMasks()
	total += n
	if err != nil {
		return total, err
	}

	if total > 0 {
		log.Printf("👁️ Clicked %d reveal controls, settling...", total)
		s.pause(s.cfg.SettleAfterReveal)
	}
	return total, nil
}

func (s *Session) clickMatching(ctx context.Context, selector string) (int, error) {
	locators, err := s.page.Locator(selector).All()
	if err != nil {
		return 0, fmt.Errorf("reveal selector %q failed: %v", selector, err)
	}
	clicked := 0
	for _, l := range locators {
		if s.clickOnce(l) {
			clicked++
		}
	}
	return clicked, nil
}

func (s *Session) clickLabeled(ctx context.Context) (int, error) {
	locators, err := s.page.Locator(`button, [role="button"], a`).All()
	if err != nil {
		return 0, fmt.Errorf("labeled control scan failed: %v", err)
	}
	clicked := 0
	for _, l := range locators {
		text, err := l.TextContent(pw.LocatorTextContentOptions{Timeout: pw.Float(500)})
		if err != nil {
			continue
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if len(text) == 0 || len(text) >= 30 {
			continue
		}
		for _, word := range revealWords {
			if strings.Contains(text, word) {
				if s.clickOnce(l) {
					clicked++
				}
				break
			}
		}
	}
	return clicked, nil
}

// clickAdjacentToMasks runs in the page: for every fragment still showing a
// mask run, click untried clickable elements in its enclosing block. Done as
// one Evaluate because sibling lookup is pure DOM traversal.
func (s *Session) clickAdjacentToMasks() (int, error) {
	result, err := s.page.Evaluate(`() => {
		const MASK = /\*{3,}/;
		const visible = (el) => {
			const r = el.getBoundingClientRect();
			return r.width > 0 && r.height > 0;
		};
		let clicked = 0;
		const fragments = Array.from(document.querySelectorAll('span, div, p'))
			.filter((el) => el.children.length === 0 && MASK.test(el.textContent || ''));
		for (const el of fragments) {
			const scope = el.closest('div') || el.parentElement;
			if (!scope) continue;
			const controls = scope.querySelectorAll('button, [role="button"], a, [class*="eye"], [class*="icon"]');
			for (const c of controls) {
				if (c.hasAttribute('data-unmask-tried') || !visible(c)) continue;
				c.setAttribute('data-unmask-tried', '1');
				if (typeof c.click === 'function') c.click();
				clicked++;
			}
		}
		return clicked;
	}`)
	if err != nil {
		return 0, fmt.Errorf("mask-adjacent click pass failed: %v", err)
	}
	n := asInt(result)
	if n > 0 {
		s.pause(s.cfg.ClickDelay)
	}
	return n, nil
}

// clickOnce clicks l if it is visible and untried, then marks it tried and
// paces before the next interaction.
func (s *Session) clickOnce(l pw.Locator) bool {
	if v, err := l.GetAttribute(triedAttr, pw.LocatorGetAttributeOptions{Timeout: pw.Float(500)}); err == nil && v != "" {
		return false
	}
	box, err := l.BoundingBox()
	if err != nil || box == nil || box.Width <= 0 || box.Height <= 0 {
		return false
	}
	if _, err := l.Evaluate(fmt.Sprintf("el => el.setAttribute('%s', '1')", triedAttr), nil); err != nil {
		return false
	}
	if err := l.Click(pw.LocatorClickOptions{Timeout: pw.Float(2000)}); err != nil {
		log.Printf("⚠️ Reveal click failed: %v", err)
		return false
	}
	s.pause(s.cfg.ClickDelay + time.Duration(rand.Int63n(int64(200*time.Millisecond))))
	return true
}

func (s *Session) pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func asInt(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
