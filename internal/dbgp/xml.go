package dbgp

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Namespace is the DBGP XML namespace.
const Namespace = "urn:debugger_protocol_v1"

// XMLHeader prefixes every engine message.
const XMLHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	unescaper   = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&amp;", "&")
)

// EscapeText escapes &, < and >.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// EscapeAttr escapes a string for use inside a double-quoted attribute.
func EscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// UnescapeText reverses EscapeAttr.
func UnescapeText(s string) string {
	return unescaper.Replace(s)
}

// NeedsBase64 reports whether text cannot travel safely inside CDATA:
// it contains a CDATA delimiter, a control character other than tab,
// newline or carriage return, or a byte above 0x7F.
func NeedsBase64(text string) bool {
	if strings.Contains(text, "<![CDATA[") || strings.Contains(text, "]]>") {
		return true
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c > 0x7f {
			return true
		}
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return true
		}
	}
	return false
}

// EncodeText applies the value encoding policy. With base64 requested
// and text that needs it, the result is base64 and encoding is "base64";
// otherwise the text is made CDATA-safe and escaped, and encoding is
// empty.
func EncodeText(text string, requested string) (payload string, encoding string) {
	if requested == "base64" && NeedsBase64(text) {
		return base64.StdEncoding.EncodeToString([]byte(text)), "base64"
	}
	return EscapeText(Sanitize(text)), ""
}

// Sanitize makes text valid XML character data: invalid UTF-8 becomes
// U+FFFD and control characters other than tab, newline and carriage
// return are written as \xNN.
func Sanitize(text string) string {
	if !NeedsBase64(text) {
		return text
	}
	text = strings.ToValidUTF8(text, "�")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteString(`\x`)
			b.WriteString(strconv.FormatInt(int64(r)+0x100, 16)[1:])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Element builds an XML element as text.
type Element struct {
	name  string
	attrs []string
	body  strings.Builder
}

// NewElement starts an element.
func NewElement(name string) *Element {
	return &Element{name: name}
}

// Attr adds an attribute; the value is escaped.
func (e *Element) Attr(key, value string) *Element {
	e.attrs = append(e.attrs, key+`="`+EscapeAttr(value)+`"`)
	return e
}

// AttrInt adds an integer attribute.
func (e *Element) AttrInt(key string, value int) *Element {
	return e.Attr(key, strconv.Itoa(value))
}

// AttrBool adds a 0/1 attribute.
func (e *Element) AttrBool(key string, value bool) *Element {
	if value {
		return e.Attr(key, "1")
	}
	return e.Attr(key, "0")
}

// Raw appends pre-rendered XML to the body.
func (e *Element) Raw(xml string) *Element {
	e.body.WriteString(xml)
	return e
}

// Child appends a nested element.
func (e *Element) Child(c *Element) *Element {
	e.body.WriteString(c.String())
	return e
}

// CDATA appends text wrapped in a CDATA section. The caller guarantees
// the text holds no CDATA terminator.
func (e *Element) CDATA(text string) *Element {
	e.body.WriteString("<![CDATA[")
	e.body.WriteString(text)
	e.body.WriteString("]]>")
	return e
}

// String renders the element.
func (e *Element) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(e.name)
	for _, a := range e.attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if e.body.Len() == 0 {
		b.WriteString("/>")
		return b.String()
	}
	b.WriteByte('>')
	b.WriteString(e.body.String())
	b.WriteString("</")
	b.WriteString(e.name)
	b.WriteByte('>')
	return b.String()
}

// Bytes renders the element as a complete document.
func (e *Element) Bytes() []byte {
	return []byte(XMLHeader + e.String())
}

// NewResponse starts a <response> envelope.
func NewResponse(command, transactionID string) *Element {
	return NewElement("response").
		Attr("xmlns", Namespace).
		Attr("command", command).
		Attr("transaction_id", transactionID)
}

// NewErrorResponse renders a failed command.
func NewErrorResponse(command, transactionID string, err *Error) *Element {
	msg := strings.ReplaceAll(Sanitize(err.Message), "]]>", "]] >")
	errEl := NewElement("error").AttrInt("code", int(err.Code)).
		Child(NewElement("message").CDATA(msg))
	return NewResponse(command, transactionID).Child(errEl)
}

// NewNotify starts a <notify> envelope.
func NewNotify(name string) *Element {
	return NewElement("notify").
		Attr("xmlns", Namespace).
		Attr("name", name)
}

// NewStream renders a <stream> envelope with base64 data.
func NewStream(kind string, data []byte) *Element {
	return NewElement("stream").
		Attr("xmlns", Namespace).
		Attr("type", kind).
		Attr("encoding", "base64").
		Raw(base64.StdEncoding.EncodeToString(data))
}
