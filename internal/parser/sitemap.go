package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/helper"
	"rag-apps/internal/models"
)

const maxPageBytes = 5 << 20

// SitemapLoader fetches the pages listed in a sitemap and keeps their
// visible text.
type SitemapLoader struct {
	client       *http.Client
	maxDocuments int
	policy       helper.RetryPolicy
}

func NewSitemapLoader(cfg config.LoaderConfig, policy helper.RetryPolicy) *SitemapLoader {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SitemapLoader{
		client:       &http.Client{Timeout: timeout},
		maxDocuments: cfg.MaxDocuments,
		policy:       policy,
	}
}

type sitemapXML struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Load reads the sitemap at sitemapURL, following one level of sitemap
// index, and returns one document per page up to max_documents.
func (l *SitemapLoader) Load(ctx context.Context, sitemapURL string) ([]models.Document, error) {
	const op = "parser.Sitemap"
	locs, err := l.locations(ctx, sitemapURL, true)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, op, err)
	}
	var docs []models.Document
	for _, loc := range locs {
		if l.maxDocuments > 0 && len(docs) >= l.maxDocuments {
			break
		}
		body, err := l.fetch(ctx, loc)
		if err != nil {
			log.Warn().Err(err).Str("url", loc).Msg("Skipping page")
			continue
		}
		title, content := ExtractHTMLText(strings.NewReader(string(body)))
		if strings.TrimSpace(content) == "" {
			continue
		}
		meta := map[string]string{models.MetaSource: loc}
		if title != "" {
			meta["title"] = title
		}
		docs = append(docs, models.Document{Content: content, Metadata: meta})
	}
	if len(docs) == 0 {
		return nil, apperr.New(apperr.KindInputInvalid, op, "no readable pages in sitemap %s", sitemapURL)
	}
	log.Info().Str("sitemap", sitemapURL).Int("documents", len(docs)).Msg("Loaded sitemap")
	return docs, nil
}

func (l *SitemapLoader) locations(ctx context.Context, sitemapURL string, follow bool) ([]string, error) {
	body, err := l.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	var sm sitemapXML
	if err := xml.Unmarshal(body, &sm); err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	var locs []string
	for _, u := range sm.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	if follow {
		for _, s := range sm.Sitemaps {
			nested, err := l.locations(ctx, strings.TrimSpace(s.Loc), false)
			if err != nil {
				log.Warn().Err(err).Str("sitemap", s.Loc).Msg("Skipping nested sitemap")
				continue
			}
			locs = append(locs, nested...)
		}
	}
	return locs, nil
}

func (l *SitemapLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	return helper.Retry(ctx, l.policy, "fetch "+url, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, helper.Permanent(err)
		}
		req.Header.Set("User-Agent", "rag-apps/1.0")
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, helper.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	})
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Svg:      true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
}

// ExtractHTMLText returns the page title and its visible text, one line
// per block element.
func ExtractHTMLText(r io.Reader) (title, content string) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	depth := 0
	inTitle := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(title), collapse(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Title {
				inTitle = tt == html.StartTagToken
			}
			if skipped[a] && tt == html.StartTagToken {
				depth++
			}
			if blocks[a] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Title {
				inTitle = false
			}
			if skipped[a] && depth > 0 {
				depth--
			}
			if blocks[a] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if inTitle {
				title += string(z.Text())
				continue
			}
			if depth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// collapse squeezes runs of spaces and drops empty lines.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
