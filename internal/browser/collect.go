package browser

import (
	"context"
	"fmt"
	"strings"

	pw "github.com/playwright-community/playwright-go"

	"github.com/aqilrvsb/UNMASK-TIK/internal/extract"
)

// shippingSelectors locate the recipient block across page versions.
var shippingSelectors = []string{
	`[class*="shipping-to"]`,
	`[class*="recipient"]`,
	`[class*="address-info"]`,
	`[class*="buyer-info"]`,
	`.index-shipping-to`,
}

// Dedicated field selectors, read before the heuristic pass.
const (
	nameFieldSelector    = `[class*="recipient-name"], [class*="buyer-name"]`
	phoneFieldSelector   = `[class*="phone-number"], [class*="mobile"]`
	addressFieldSelector = `[class*="full-address"], [class*="delivery-address"]`
)

// Extract reads the rendered page and classifies it into a Record. The
// recipient block is preferred as the fragment source; when the layout has
// shifted and no block matches, the whole page text is split into lines
// instead, and classification runs on those.
func (s *Session) Extract(ctx context.Context) (*extract.Record, error) {
	seed := extract.Seed{
		Name:    s.fieldText(nameFieldSelector),
		Phone:   s.fieldText(phoneFieldSelector),
		Address: s.fieldText(addressFieldSelector),
	}

	pageText, err := s.page.InnerText("body")
	if err != nil {
		return nil, fmt.Errorf("page text read failed: %v", err)
	}

	fragments, err := s.shippingFragments()
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		fragments = strings.Split(pageText, "\n")
	}

	return extract.Classify(seed, fragments, pageText), nil
}

func (s *Session) shippingFragments() ([]string, error) {
	for _, sel := range shippingSelectors {
		loc := s.page.Locator(sel)
		count, err := loc.Count()
		if err != nil {
			return nil, fmt.Errorf("shipping block probe %q failed: %v", sel, err)
		}
		if count == 0 {
			continue
		}
		texts, err := loc.First().Locator("span, div, p").AllInnerTexts()
		if err != nil {
			return nil, fmt.Errorf("shipping block read failed: %v", err)
		}
		return texts, nil
	}
	return nil, nil
}

// fieldText reads a dedicated field if it is present; empty means absent.
func (s *Session) fieldText(selector string) string {
	loc := s.page.Locator(selector)
	if count, err := loc.Count(); err != nil || count == 0 {
		return ""
	}
	text, err := loc.First().TextContent(pw.LocatorTextContentOptions{Timeout: pw.Float(1000)})
	if err != nil {
		return ""
	}
	return text
}
