package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AppendToken is the array-append marker.
const AppendToken = "-"

// ErrInvalidPointer is returned for pointers that are not well formed.
var ErrInvalidPointer = errors.New("invalid pointer")

// Pointer is a parsed slash-delimited path. The empty pointer addresses the
// document root. A Pointer is a value and never refers to a live node.
type Pointer struct {
	tokens []string
}

// ParsePointer parses s. s must be empty or start with '/', and '~' may only
// appear as the escapes "~0" and "~1".
func ParsePointer(s string) (Pointer, error) {
	if s == "" {
		return Pointer{}, nil
	}
	if s[0] != '/' {
		return Pointer{}, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPointer, s)
	}
	raw := strings.Split(s[1:], "/")
	tokens := make([]string, len(raw))
	for i, r := range raw {
		tok, err := unescape(r)
		if err != nil {
			return Pointer{}, fmt.Errorf("%w: %q: %v", ErrInvalidPointer, s, err)
		}
		tokens[i] = tok
	}
	return Pointer{tokens: tokens}, nil
}

// MustPointer is like ParsePointer but panics on error.
func MustPointer(s string) Pointer {
	p, err := ParsePointer(s)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPointer builds a pointer from already unescaped tokens.
func NewPointer(tokens ...string) Pointer {
	return Pointer{tokens: append([]string(nil), tokens...)}
}

func unescape(tok string) (string, error) {
	if !strings.Contains(tok, "~") {
		return tok, nil
	}
	var b strings.Builder
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c != '~' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(tok) {
			return "", errors.New("dangling '~'")
		}
		switch tok[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("bad escape '~%c'", tok[i+1])
		}
		i++
	}
	return b.String(), nil
}

var escaper = strings.NewReplacer("~", "~0", "/", "~1")

// String renders the pointer back into its escaped form.
func (p Pointer) String() string {
	if len(p.tokens) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range p.tokens {
		b.WriteByte('/')
		b.WriteString(escaper.Replace(t))
	}
	return b.String()
}

func (p Pointer) IsRoot() bool { return len(p.tokens) == 0 }

func (p Pointer) Len() int { return len(p.tokens) }

// Tokens returns a copy of the unescaped tokens.
func (p Pointer) Tokens() []string { return append([]string(nil), p.tokens...) }

// Last returns the final token; it is empty for the root pointer.
func (p Pointer) Last() string {
	if len(p.tokens) == 0 {
		return ""
	}
	return p.tokens[len(p.tokens)-1]
}

// Parent returns the pointer without its final token.
func (p Pointer) Parent() Pointer {
	if len(p.tokens) == 0 {
		return p
	}
	return Pointer{tokens: p.tokens[:len(p.tokens)-1]}
}

// Child returns p extended by tok.
func (p Pointer) Child(tok string) Pointer {
	tokens := make([]string, len(p.tokens), len(p.tokens)+1)
	copy(tokens, p.tokens)
	return Pointer{tokens: append(tokens, tok)}
}

// Equal reports whether p and q address the same location.
func (p Pointer) Equal(q Pointer) bool {
	if len(p.tokens) != len(q.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != q.tokens[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is p or an ancestor of p.
func (p Pointer) HasPrefix(q Pointer) bool {
	if len(q.tokens) > len(p.tokens) {
		return false
	}
	for i := range q.tokens {
		if p.tokens[i] != q.tokens[i] {
			return false
		}
	}
	return true
}

// IsStrictDescendantOf reports whether p lies strictly below q.
func (p Pointer) IsStrictDescendantOf(q Pointer) bool {
	return len(p.tokens) > len(q.tokens) && p.HasPrefix(q)
}

// arrayIndex parses tok as an array index. Leading zeros and signs are
// rejected.
func arrayIndex(tok string) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}
