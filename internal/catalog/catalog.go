// Package catalog extracts listing links and product fields from catalog HTML.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultPageTemplate is the catalog listing URL; %d is the 1-based page number.
const DefaultPageTemplate = "https://books.toscrape.com/catalogue/category/books_1/page-%d.html"

// Selectors used against the catalog markup.
const (
	selectorProductLink = "article.product_pod h3 a"
	selectorTitle       = "h1"
	selectorPrice       = ".price_color"
	selectorStock       = ".availability"
	selectorRating      = ".star-rating"
	selectorCategory    = "ul.breadcrumb li:nth-child(3) a"
	selectorImage       = "#product_gallery img"
	selectorDescription = "#product_description ~ p"
	selectorInfoRows    = "table.table-striped tr"
)

// ErrMissingElement is returned when a required product element is absent.
var ErrMissingElement = errors.New("missing element")

// PageURLs expands the template into count listing addresses.
func PageURLs(template string, count int) []string {
	if template == "" {
		template = DefaultPageTemplate
	}
	out := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, fmt.Sprintf(template, i))
	}
	return out
}

// ParseListing returns the absolute product addresses linked from a listing page.
func ParseListing(pageURL string, body io.Reader) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	var (
		links   []string
		linkErr error
	)
	doc.Find(selectorProductLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		abs, err := resolve(base, href)
		if err != nil {
			linkErr = err
			return false
		}
		links = append(links, abs)
		return true
	})
	if linkErr != nil {
		return nil, linkErr
	}
	return links, nil
}

// ParseProduct reads the product fields from a product page.
func ParseProduct(pageURL string, body io.Reader) (map[string]any, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse product html: %w", err)
	}

	title, err := requiredText(doc, selectorTitle)
	if err != nil {
		return nil, err
	}
	price, err := requiredText(doc, selectorPrice)
	if err != nil {
		return nil, err
	}
	stock, err := requiredText(doc, selectorStock)
	if err != nil {
		return nil, err
	}
	category, err := requiredText(doc, selectorCategory)
	if err != nil {
		return nil, err
	}
	ratingClass, err := requiredAttr(doc, selectorRating, "class")
	if err != nil {
		return nil, err
	}
	imageSrc, err := requiredAttr(doc, selectorImage, "src")
	if err != nil {
		return nil, err
	}
	imageURL, err := resolve(base, imageSrc)
	if err != nil {
		return nil, err
	}

	description := ""
	if desc := doc.Find(selectorDescription).First(); desc.Length() > 0 {
		description = strings.TrimSpace(desc.Text())
	}

	info := map[string]string{}
	doc.Find(selectorInfoRows).Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		if key == "" {
			return
		}
		info[key] = strings.TrimSpace(row.Find("td").First().Text())
	})

	return map[string]any{
		"title":        title,
		"category":     category,
		"price":        price,
		"stock":        stock,
		"rating":       strings.TrimSpace(strings.Replace(ratingClass, "star-rating", "", 1)),
		"image_url":    imageURL,
		"description":  description,
		"product_info": info,
	}, nil
}

func requiredText(doc *goquery.Document, selector string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingElement, selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}

func requiredAttr(doc *goquery.Document, selector, attr string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingElement, selector)
	}
	val, ok := sel.Attr(attr)
	if !ok {
		return "", fmt.Errorf("%w: %s[%s]", ErrMissingElement, selector, attr)
	}
	return val, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}
