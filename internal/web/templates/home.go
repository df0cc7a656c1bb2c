// Package templates holds the HTML components served by the web package.
// Components are written in .templ files; run `templ generate` after editing
// them.
package templates

// HomeData fills the lookup page.
type HomeData struct {
	Sheet         string
	AdminRequired bool
}
