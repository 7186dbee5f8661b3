// Package attachment normalises inbound files into a textual form that can be
// embedded in a conversation turn.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	errx "github.com/tanpawarit/chative-relay/internal/core/error"
	"github.com/tanpawarit/chative-relay/internal/relay/model"
)

const (
	DefaultMaxBytes = 1 << 20

	octetStream = "application/octet-stream"
)

// DefaultTextExtensions are embedded as plain text regardless of MIME type.
var DefaultTextExtensions = []string{
	"py", "js", "ts", "java", "c", "cpp", "h", "hpp", "cs", "go",
	"rb", "rs", "swift", "kt", "sh", "bash", "zsh", "fish",
	"yaml", "yml", "toml", "ini", "cfg", "conf",
	"md", "rst", "txt", "log", "csv", "json", "xml", "html", "css",
	"sql", "r", "m", "lua", "pl", "php",
}

// structuredMimeTypes are textual payloads outside text/*.
var structuredMimeTypes = map[string]struct{}{
	"application/json":       {},
	"application/xml":        {},
	"application/javascript": {},
	"application/typescript": {},
	"application/x-python":   {},
	"application/x-sh":       {},
	"application/x-yaml":     {},
	"application/yaml":       {},
	"application/toml":       {},
	"application/csv":        {},
	"application/x-ndjson":   {},
}

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	errInvalidUTF8 = errors.New("invalid UTF-8 sequence")
	errNULByte     = errors.New("content contains NUL bytes")
)

// File is an inbound file as delivered by the transport.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Codec classifies files and produces their embeddable representation.
// It performs no I/O and is safe for concurrent use.
type Codec struct {
	maxBytes int
	textExt  map[string]struct{}
}

func NewCodec(cfg model.AttachmentConfig) *Codec {
	exts := cfg.TextExtensions
	if len(exts) == 0 {
		exts = DefaultTextExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			set[e] = struct{}{}
		}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Codec{maxBytes: maxBytes, textExt: set}
}

// MaxBytes is the largest accepted file size.
func (c *Codec) MaxBytes() int {
	return c.maxBytes
}

// Encode classifies f and returns its AttachmentRef. It fails with
// errx.ErrAttachmentTooLarge above the size limit and errx.ErrDecode when a
// file classified as textual does not decode to UTF-8.
func (c *Codec) Encode(f File) (model.AttachmentRef, error) {
	if len(f.Data) > c.maxBytes {
		return model.AttachmentRef{}, errx.TooLarge(f.Name, len(f.Data), c.maxBytes)
	}

	mimeType := c.resolveMime(f.MimeType, f.Data)
	kind := c.classify(f.Name, mimeType)
	ref := model.AttachmentRef{
		Name:      f.Name,
		Kind:      kind,
		MimeType:  mimeType,
		SizeBytes: len(f.Data),
	}

	if kind.IsTextual() {
		text, err := decodeText(f.Data)
		if err != nil {
			return model.AttachmentRef{}, errx.Decode(f.Name, err)
		}
		ref.Payload = text
		return ref, nil
	}

	ref.Payload = DataURI(mimeType, f.Data)
	return ref, nil
}

// Classify applies the classification policy without decoding content.
func (c *Codec) Classify(name, mimeType string, data []byte) model.AttachmentKind {
	return c.classify(name, c.resolveMime(mimeType, data))
}

func (c *Codec) classify(name, mimeType string) model.AttachmentKind {
	if _, ok := c.textExt[extension(name)]; ok {
		return model.KindText
	}
	if isStructuredMime(mimeType) {
		return model.KindStructured
	}
	if strings.HasPrefix(mimeType, "image/") {
		return model.KindImage
	}
	return model.KindBinary
}

// resolveMime strips parameters and sniffs content when the transport gave
// no useful type.
func (c *Codec) resolveMime(declared string, data []byte) string {
	mt := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if mt == "" || mt == octetStream {
		if len(data) == 0 {
			return octetStream
		}
		sniffed, _, err := mime.ParseMediaType(http.DetectContentType(data))
		if err != nil {
			return octetStream
		}
		// Sniffed text/* is not trusted: ASCII noise sniffs as text/plain.
		if strings.HasPrefix(sniffed, "text/") {
			return octetStream
		}
		return sniffed
	}
	return mt
}

func isStructuredMime(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	_, ok := structuredMimeTypes[mt]
	return ok
}

func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// decodeText returns data as a UTF-8 string. A UTF-8 BOM is stripped and
// UTF-16 input with a BOM is transcoded; anything else must already be
// valid UTF-8 without NUL bytes.
func decodeText(data []byte) (string, error) {
	var out []byte
	if bytes.HasPrefix(data, utf8BOM) {
		out = data[len(utf8BOM):]
	} else {
		decoded, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
		if err != nil {
			return "", err
		}
		out = decoded
	}
	if !utf8.Valid(out) {
		return "", errInvalidUTF8
	}
	if bytes.IndexByte(out, 0) >= 0 {
		return "", errNULByte
	}
	return string(out), nil
}

// DataURI wraps data as data:<mime>;base64,<payload>.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = octetStream
	}
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
