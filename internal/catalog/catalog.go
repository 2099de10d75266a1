package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/iconsync/internal/fetcher"
)

// Defaults for the Material Symbols catalog.
const (
	DefaultPageURL          = "https://fonts.google.com/icons?icon.platform=web"
	DefaultAssetURLTemplate = "https://fonts.gstatic.com/s/i/short-term/release/materialsymbolsoutlined/{name}/default/48px.svg"
)

// DefaultVariations are the style suffixes used to recognize the names
// object and to filter styled duplicates out of it.
var DefaultVariations = []string{"outlined", "rounded", "reduced", "sharp"}

// Discovery errors.
var (
	ErrEmptyPage      = errors.New("catalog: index page returned no body")
	ErrScriptNotFound = errors.New("catalog: base script not found")
	ErrNoObjects      = errors.New("catalog: no objects found in script")
	ErrNamesNotFound  = errors.New("catalog: names object not found")
	ErrInvalidItem    = errors.New("catalog: invalid item")
	ErrDuplicateID    = errors.New("catalog: duplicate item id")
)

var objectPattern = regexp.MustCompile(`var\s+[\w$]+\s*=\s*(\{[^{}]+\})\s*;`)

// Fetcher retrieves a whole document.
type Fetcher interface {
	Get(ctx context.Context, url, accept string) ([]byte, error)
}

// Options configures discovery.
type Options struct {
	PageURL          string
	AssetURLTemplate string
	Variations       []string
	Logger           *log.Logger
}

// DefaultOptions returns options for the public Material Symbols catalog.
func DefaultOptions() Options {
	return Options{
		PageURL:          DefaultPageURL,
		AssetURLTemplate: DefaultAssetURLTemplate,
		Variations:       append([]string(nil), DefaultVariations...),
	}
}

// Discover fetches the index page, follows its base script and turns the
// icon names found there into download items, sorted by name.
func Discover(ctx context.Context, f Fetcher, opts Options) ([]fetcher.Item, error) {
	def := DefaultOptions()
	if opts.PageURL == "" {
		opts.PageURL = def.PageURL
	}
	if opts.AssetURLTemplate == "" {
		opts.AssetURLTemplate = def.AssetURLTemplate
	}
	if len(opts.Variations) == 0 {
		opts.Variations = def.Variations
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	page, err := f.Get(ctx, opts.PageURL, "")
	if err != nil {
		return nil, fmt.Errorf("fetch index page: %w", err)
	}
	if len(bytes.TrimSpace(page)) == 0 {
		return nil, ErrEmptyPage
	}

	scriptURL, err := ScriptURL(page, opts.PageURL)
	if err != nil {
		return nil, err
	}
	logger.Printf("base script: %s", scriptURL)

	script, err := f.Get(ctx, scriptURL, "*/*")
	if err != nil {
		return nil, fmt.Errorf("fetch base script: %w", err)
	}

	names, err := Names(script, opts.Variations)
	if err != nil {
		return nil, err
	}

	items, err := Build(names, opts.AssetURLTemplate)
	if err != nil {
		return nil, err
	}
	logger.Printf("found %d icons", len(items))
	return items, nil
}

// ScriptURL returns the src of the <script id="base-js"> element, resolved
// against pageURL. Protocol-relative sources get the https scheme.
func ScriptURL(page []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse index page: %w", err)
	}

	src, ok := doc.Find("script#base-js").First().Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return "", ErrScriptNotFound
	}

	if strings.HasPrefix(src, "//") {
		return "https:" + src, nil
	}

	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScriptNotFound, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ObjectLiterals returns every flat object literal assigned with
// "var x={...};" in script.
func ObjectLiterals(script []byte) []string {
	matches := objectPattern.FindAllSubmatch(script, -1)
	objects := make([]string, 0, len(matches))
	for _, m := range matches {
		objects = append(objects, string(m[1]))
	}
	return objects
}

// Names finds the object whose keys mention every variation and returns its
// keys without the styled variants, sorted.
func Names(script []byte, variations []string) ([]string, error) {
	objects := ObjectLiterals(script)
	if len(objects) == 0 {
		return nil, ErrNoObjects
	}

	var lastErr error
	for _, obj := range objects {
		if !mentionsAll([]string{obj}, variations) {
			continue
		}
		keys, err := ObjectKeys(obj)
		if err != nil {
			lastErr = err
			continue
		}
		if !mentionsAll(keys, variations) {
			continue
		}

		seen := make(map[string]struct{}, len(keys))
		names := make([]string, 0, len(keys))
		for _, name := range keys {
			if _, dup := seen[name]; dup || isVariant(name, variations) {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNamesNotFound, lastErr)
	}
	return nil, ErrNamesNotFound
}

// ObjectKeys parses an object literal and returns its non-computed property
// names in source order.
func ObjectKeys(literal string) ([]string, error) {
	prog, err := parser.ParseFile(nil, "", "var o = "+literal+";", 0)
	if err != nil {
		return nil, fmt.Errorf("parse object literal: %w", err)
	}

	var obj *ast.ObjectLiteral
	if len(prog.Body) == 1 {
		if stmt, ok := prog.Body[0].(*ast.VariableStatement); ok && len(stmt.List) == 1 {
			obj, _ = stmt.List[0].Initializer.(*ast.ObjectLiteral)
		}
	}
	if obj == nil {
		return nil, fmt.Errorf("parse object literal: not a single object")
	}

	keys := make([]string, 0, len(obj.Value))
	for _, prop := range obj.Value {
		switch p := prop.(type) {
		case *ast.PropertyKeyed:
			if p.Computed {
				continue
			}
			if name, ok := propertyName(p.Key); ok {
				keys = append(keys, name)
			}
		case *ast.PropertyShort:
			keys = append(keys, p.Name.Name.String())
		}
	}
	return keys, nil
}

func propertyName(key ast.Expression) (string, bool) {
	switch k := key.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), true
	case *ast.Identifier:
		return k.Name.String(), true
	case *ast.NumberLiteral:
		return k.Literal, true
	}
	return "", false
}

// Build maps names to items using template, where "{name}" is replaced by
// the path-escaped name.
func Build(names []string, template string) ([]fetcher.Item, error) {
	if !strings.Contains(template, "{name}") {
		return nil, fmt.Errorf("catalog: asset url template %q has no {name} placeholder", template)
	}
	items := make([]fetcher.Item, len(names))
	for i, name := range names {
		items[i] = fetcher.Item{
			ID:  name,
			URL: strings.ReplaceAll(template, "{name}", url.PathEscape(name)),
		}
	}
	return items, Validate(items)
}

// Validate checks that every item has an ID and a URL and that IDs are
// unique.
func Validate(items []fetcher.Item) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidItem, i)
		}
		if item.URL == "" {
			return fmt.Errorf("%w: %s has no url", ErrInvalidItem, item.ID)
		}
		if _, ok := seen[item.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// FromFile loads a "name: url" mapping from a YAML (or JSON) file, keeping
// the file's order.
func FromFile(path string) ([]fetcher.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Decode(data)
}

// Decode parses a "name: url" mapping.
func Decode(data []byte) ([]fetcher.Item, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse catalog: expected a mapping of name to url at line %d", root.Line)
	}

	items := make([]fetcher.Item, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse catalog: %s: url must be a string (line %d)", key.Value, value.Line)
		}
		items = append(items, fetcher.Item{ID: key.Value, URL: value.Value})
	}
	return items, Validate(items)
}

// Encode writes items as an ordered YAML mapping.
func Encode(w io.Writer, items []fetcher.Item) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, item := range items {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item.ID},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item.URL},
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}

// mentionsAll reports whether every variation suffix occurs in at least one
// of texts.
func mentionsAll(texts []string, variations []string) bool {
	for _, v := range variations {
		found := false
		for _, text := range texts {
			if strings.Contains(text, "_"+v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isVariant(name string, variations []string) bool {
	for _, v := range variations {
		if strings.Contains(name, "_"+v) {
			return true
		}
	}
	return false
}
