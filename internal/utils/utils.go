package utils

import (
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MDtoHTML renders a reply as HTML. Raw HTML in the input is dropped since
// replies are model output.
func MDtoHTML(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)
	htmlFlags := html.CommonFlags | html.HrefTargetBlank | html.SkipHTML
	opts := html.RendererOptions{Flags: htmlFlags}
	renderer := html.NewRenderer(opts)
	return markdown.Render(doc, renderer)
}

// GetTokenClaim reads a string claim from a JWT without verifying its
// signature; the token only identifies the user for display.
func GetTokenClaim(tokenString string, claimName string) (tokenClaim string, err error) {
	var token *jwt.Token
	if token, _, err = jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{}); err != nil {
		err = fmt.Errorf("failure to parse JWT token: %w", err)
		return
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		err = fmt.Errorf("unexpected JWT claims type %T", token.Claims)
		return
	}
	value, exists := claims[claimName]
	if !exists || value == nil {
		err = fmt.Errorf("claim \"%s\" is not found in token claims", claimName)
		return
	}
	if tokenClaim, ok = value.(string); !ok {
		err = fmt.Errorf("claim \"%s\" is a %T, not a string", claimName, value)
	}
	return
}
