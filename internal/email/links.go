// File: internal/email/links.go
package email

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns every absolute anchor href in document order.
func ExtractLinks(htmlBody string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return nil, fmt.Errorf("could not parse email body: %w", err)
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
					links = append(links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// PreferredConfirmationLink ranks extracted links for the confirmation
// click: tracked redirect links first (they carry the real target), the
// platform's confirmation path second, otherwise the first absolute link.
// Returns "" when there is nothing to click.
func PreferredConfirmationLink(links []string) string {
	for _, link := range links {
		if strings.Contains(link, "google.com/url?") {
			return link
		}
	}
	for _, link := range links {
		if strings.Contains(link, "/users/confirmation") {
			return link
		}
	}
	if len(links) > 0 {
		return links[0]
	}
	return ""
}
