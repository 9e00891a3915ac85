package portal

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed assets/index.html
var defaultPage []byte

// Page supplies the portal HTML for each non-submission request.
type Page interface {
	Load() ([]byte, error)
}

// PageFunc adapts a function to Page.
type PageFunc func() ([]byte, error)

// Load calls f.
func (f PageFunc) Load() ([]byte, error) { return f() }

// FilePage re-reads the file at path on every request so the page can be
// edited on a running node.
func FilePage(path string) Page {
	return PageFunc(func() ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read portal page: %w", err)
		}
		return data, nil
	})
}

// StaticPage always serves html.
func StaticPage(html []byte) Page {
	return PageFunc(func() ([]byte, error) { return html, nil })
}

// DefaultPage serves the built-in ssid/password form.
func DefaultPage() Page {
	return StaticPage(defaultPage)
}
