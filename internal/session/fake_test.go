package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
)

// fakeSite maps absolute URLs to HTML.
type fakeSite map[string]string

type fakeLauncher struct {
	mu        sync.Mutex
	site      fakeSite
	launchErr error
	pageErr   error
	gotoErr   error
	onClick   func(p *fakePage, sel *goquery.Selection)
	launches  int
	browsers  []*fakeBrowser
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	b := &fakeBrowser{l: l}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) pages() []*fakePage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fakePage
	for _, b := range l.browsers {
		out = append(out, b.pages...)
	}
	return out
}

type fakeBrowser struct {
	l      *fakeLauncher
	pages  []*fakePage
	closes int
}

func (b *fakeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	if b.l.pageErr != nil {
		return nil, b.l.pageErr
	}
	p := &fakePage{
		site:     b.l.site,
		gotoErr:  b.l.gotoErr,
		onClick:  b.l.onClick,
		typed:    map[string]string{},
		selected: map[string]string{},
	}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	b.closes++
	return nil
}

func (l *fakeLauncher) browserCloses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.browsers {
		n += b.closes
	}
	return n
}

type fakePage struct {
	mu       sync.Mutex
	site     fakeSite
	gotoErr  error
	onClick  func(p *fakePage, sel *goquery.Selection)
	url      string
	doc      *goquery.Document
	visited  []string
	clicked  []string
	typed    map[string]string
	selected map[string]string
	evals    []any
	closed   bool
}

func (p *fakePage) load(url, html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(err)
	}
	p.url = url
	p.doc = doc
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	if p.gotoErr != nil {
		return p.gotoErr
	}
	html, ok := p.site[url]
	if !ok {
		return errors.New("404 " + url)
	}
	p.visited = append(p.visited, url)
	p.load(url, html)
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Content(ctx context.Context) (string, error) {
	if p.doc == nil {
		return "", nil
	}
	return goquery.OuterHtml(p.doc.Selection)
}

func (p *fakePage) Find(ctx context.Context, selector string) (Element, error) {
	if p.doc == nil {
		return nil, goerr.Wrap(ErrElementNotFound, "blank page")
	}
	s := p.doc.Find(selector)
	if s.Length() == 0 {
		return nil, goerr.Wrap(ErrElementNotFound, "no match", goerr.V("selector", selector))
	}
	return &fakeElement{p: p, s: s.First()}, nil
}

func (p *fakePage) FindAll(ctx context.Context, selector string) ([]Element, error) {
	if p.doc == nil {
		return nil, nil
	}
	var out []Element
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &fakeElement{p: p, s: s})
	})
	return out, nil
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	return p.Find(ctx, selector)
}

func (p *fakePage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	p.evals = append(p.evals, arg)
	return true, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeElement struct {
	p *fakePage
	s *goquery.Selection
}

func (e *fakeElement) key() string {
	if id, ok := e.s.Attr("id"); ok {
		return id
	}
	if name, ok := e.s.Attr("name"); ok {
		return name
	}
	return strings.TrimSpace(e.s.Text())
}

func (e *fakeElement) Tag() string { return goquery.NodeName(e.s) }

func (e *fakeElement) Text() (string, error) { return strings.TrimSpace(e.s.Text()), nil }

func (e *fakeElement) Attr(name string) (string, error) { return e.s.AttrOr(name, ""), nil }

func (e *fakeElement) Visible() bool {
	return e.s.Closest("[hidden], [style*='display:none'], [style*='display: none']").Length() == 0
}

func (e *fakeElement) Enabled() bool {
	_, disabled := e.s.Attr("disabled")
	return !disabled
}

func (e *fakeElement) Click() error {
	e.p.clicked = append(e.p.clicked, e.key())
	if e.p.onClick != nil {
		e.p.onClick(e.p, e.s)
	}
	return nil
}

func (e *fakeElement) Type(text string) error {
	e.p.typed[e.key()] = text
	return nil
}

func (e *fakeElement) Select(value string) error {
	e.p.selected[e.key()] = value
	return nil
}

func (e *fakeElement) Options() ([]Option, error) {
	var out []Option
	e.s.Find("option").Each(func(_ int, o *goquery.Selection) {
		out = append(out, Option{Value: o.AttrOr("value", ""), Label: strings.TrimSpace(o.Text())})
	})
	return out, nil
}
