package rewrite

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ImageSource is a resolved image reference as handed to theme code.
type ImageSource struct {
	URL          string `json:"url"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Intermediate bool   `json:"intermediate"`
}

// ImageSrc swaps the URL for its WebP sibling when that file exists.
func ImageSrc(r *Resolver, src ImageSource) ImageSource {
	if webpURL, ok := r.WebPFor(src.URL); ok {
		src.URL = webpURL
	}
	return src
}

// Content wraps every <img> whose source has a WebP sibling in a <picture>
// element offering the WebP first. The original tag is kept byte for byte.
// Markup that cannot be tokenized is returned unchanged, and a trailing
// fragment the tokenizer holds back at end of input is copied through.
func Content(r *Resolver, content string) string {
	if !strings.Contains(strings.ToLower(content), "<img") {
		return content
	}

	var out bytes.Buffer
	out.Grow(len(content) + 128)

	z := html.NewTokenizer(strings.NewReader(content))
	pictureDepth := 0
	consumed := 0
	changed := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				if consumed > len(content) {
					return content
				}
				out.WriteString(content[consumed:])
				break
			}
			return content
		}

		// TagName and TagAttr lowercase the buffer in place, so copy first.
		raw := append([]byte(nil), z.Raw()...)
		consumed += len(raw)
		name, hasAttr := z.TagName()
		switch {
		case tt == html.StartTagToken && string(name) == "picture":
			pictureDepth++
		case tt == html.EndTagToken && string(name) == "picture":
			if pictureDepth > 0 {
				pictureDepth--
			}
		case (tt == html.StartTagToken || tt == html.SelfClosingTagToken) && string(name) == "img" && hasAttr && pictureDepth == 0:
			if webpURL, ok := r.WebPFor(imgSrc(z)); ok {
				out.WriteString(`<picture><source srcset="`)
				out.WriteString(html.EscapeString(webpURL))
				out.WriteString(`" type="image/webp">`)
				out.Write(raw)
				out.WriteString(`</picture>`)
				changed = true
				continue
			}
		}
		out.Write(raw)
	}

	if !changed {
		return content
	}
	return out.String()
}

// imgSrc reads the src attribute of the current tag; call it after TagName.
func imgSrc(z *html.Tokenizer) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "src" {
			return string(val)
		}
		if !more {
			return ""
		}
	}
}
