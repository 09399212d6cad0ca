package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMailtoWinsOverText(t *testing.T) {
	t.Parallel()

	html := `<html><body><p>Write to b@y.com</p><a href="mailto:a@x.com">mail us</a></body></html>`
	email, name := New().Extract(html)
	require.Equal(t, "a@x.com", email)
	require.Equal(t, Mailto, name)
}

func TestExtractMailtoStripsQueryAndLowercases(t *testing.T) {
	t.Parallel()

	html := `<a href="MAILTO:Sales@Shop.COM?subject=Hello">Sales</a>`
	email, name := New(MailtoStrategy()).Extract(html)
	require.Equal(t, "sales@shop.com", email)
	require.Equal(t, Mailto, name)
}

func TestExtractMailtoSkipsInvalidAnchors(t *testing.T) {
	t.Parallel()

	html := `<a href="mailto:">empty</a><a href="mailto:not-an-address">bad</a><a href="mailto:ok@site.org">ok</a>`
	email, _ := New(MailtoStrategy()).Extract(html)
	require.Equal(t, "ok@site.org", email)
}

func TestExtractTextGrammar(t *testing.T) {
	t.Parallel()

	email, name := New(TextStrategy()).Extract("contact: John.Doe+sales@my-shop.co.uk for info")
	require.Equal(t, "John.Doe+sales@my-shop.co.uk", email)
	require.Equal(t, Text, name)
	require.True(t, Valid(email))
}

func TestExtractTextIgnoresScriptsAndAssets(t *testing.T) {
	t.Parallel()

	html := `<html><head><script>var x = "hidden@tracker.io";</script></head>
<body><img src="logo@2x.png"><p>Reach us at hello@bakery.com</p></body></html>`
	email, _ := New(TextStrategy()).Extract(html)
	require.Equal(t, "hello@bakery.com", email)
}

func TestExtractTextKeepsAdjacentBlocksApart(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"list":   `<ul><li>Call us</li><li>info@acme.com</li></ul>`,
		"table":  `<table><tr><td>Email</td><td>info@acme.com</td></tr></table>`,
		"break":  `<p>Office<br>info@acme.com</p>`,
		"blocks": `<div>Contact</div><div>info@acme.com</div>`,
	}
	for name, html := range cases {
		email, strategy := New().Extract(html)
		require.Equal(t, "info@acme.com", email, name)
		require.Equal(t, Text, strategy, name)
	}
}

func TestExtractTextJoinsInlineMarkup(t *testing.T) {
	t.Parallel()

	email, _ := New(TextStrategy()).Extract(`<p>Write to <b>sales</b>@shop.com today</p>`)
	require.Equal(t, "sales@shop.com", email)
}

func TestVisibleText(t *testing.T) {
	t.Parallel()

	doc := NewDocument(`<html><head><title>t</title></head><body><!-- note --><div>one</div><style>.x{}</style><span>two</span> three</body></html>`)
	text := VisibleText(doc.DOM().Find("body"))
	require.Equal(t, "\none\ntwo three", text)
}

func TestExtractNoMatch(t *testing.T) {
	t.Parallel()

	for _, content := range []string{"", "   ", "<p>no contact details here</p>", "user@localhost"} {
		email, name := New().Extract(content)
		require.Empty(t, email, content)
		require.Empty(t, name, content)
	}
}

func TestExtractMailtoOnlyDoesNotScanText(t *testing.T) {
	t.Parallel()

	email, name := New(MailtoStrategy()).Extract("<p>info@example.com</p>")
	require.Empty(t, email)
	require.Empty(t, name)
}

func TestByName(t *testing.T) {
	t.Parallel()

	strategies, err := ByName([]string{" Text ", "mailto"})
	require.NoError(t, err)
	require.Equal(t, []Name{Text, Mailto}, New(strategies...).Strategies())

	_, err = ByName([]string{"ocr"})
	require.ErrorContains(t, err, "ocr")
}

func TestFirstLinkResolvesRelative(t *testing.T) {
	t.Parallel()

	html := `<a href="/shop">Shop</a><a href="/Contact-Us#form">Contact</a><a href="/about">About</a>`
	require.Equal(t, "https://acme.test/Contact-Us", FirstLink(html, "https://acme.test/", "contact"))
	require.Equal(t, "https://acme.test/about", FirstLink(html, "https://acme.test/", "about"))
	require.Empty(t, FirstLink(html, "https://acme.test/", "careers"))
}

func TestFirstLinkSkipsNonHTTP(t *testing.T) {
	t.Parallel()

	html := `<a href="mailto:contact@acme.test">mail</a><a href="javascript:contact()">js</a>`
	require.Empty(t, FirstLink(html, "https://acme.test/", "contact"))
}

func TestSocialLink(t *testing.T) {
	t.Parallel()

	html := `<a href="https://notfacebook.com/x">no</a><a href="https://www.facebook.com/acme">fb</a>`
	require.Equal(t, "https://www.facebook.com/acme", SocialLink(html, "https://acme.test", "facebook.com", "fb.com"))
	require.Empty(t, SocialLink(`<a href="/home">home</a>`, "https://acme.test", "facebook.com"))
}
