package replica

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// ContentKey is the root map key holding a document's text.
const ContentKey = "content"

// NewDoc returns a committed document whose content is s.
func NewDoc(s string) (*automerge.Doc, error) {
	doc := automerge.New()
	if err := doc.Path(ContentKey).Set(automerge.NewText(s)); err != nil {
		return nil, err
	}
	if _, err := doc.Commit("create"); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadDoc decodes a saved document.
func LoadDoc(b []byte) (*automerge.Doc, error) {
	doc, err := automerge.Load(b)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Content returns the document text. A document without content reads as "".
func Content(doc *automerge.Doc) (string, error) {
	v, err := doc.Path(ContentKey).Get()
	if err != nil {
		return "", err
	}
	switch v.Kind() {
	case automerge.KindText:
		return v.Text().Get()
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindVoid:
		return "", nil
	default:
		return "", fmt.Errorf("%q has kind %v, want text", ContentKey, v.Kind())
	}
}

// HasContent reports whether the document carries a text content field.
func HasContent(doc *automerge.Doc) bool {
	v, err := doc.Path(ContentKey).Get()
	return err == nil && (v.Kind() == automerge.KindText || v.Kind() == automerge.KindStr)
}

// SetContent replaces the document text without committing.
func SetContent(doc *automerge.Doc, s string) error {
	v, err := doc.Path(ContentKey).Get()
	if err == nil && v.Kind() == automerge.KindText {
		t := v.Text()
		return t.Splice(0, t.Len(), s)
	}
	return doc.Path(ContentKey).Set(automerge.NewText(s))
}

// Heads returns the document heads as hex strings.
func Heads(doc *automerge.Doc) []string {
	hs := doc.Heads()
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

// SameHeads reports whether two head sets are identical.
func SameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
