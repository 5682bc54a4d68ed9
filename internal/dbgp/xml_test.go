package dbgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponse(t *testing.T) {
	el := NewResponse("status", "3").Attr("status", "break").Attr("reason", "ok")
	assert.Equal(t,
		`<response xmlns="urn:debugger_protocol_v1" command="status" transaction_id="3" status="break" reason="ok"/>`,
		el.String())
	assert.Contains(t, string(el.Bytes()), `<?xml version="1.0" encoding="UTF-8"?>`)
}

func TestErrorResponseRoundTrip(t *testing.T) {
	el := NewErrorResponse("breakpoint_get", "9", Errorf(ErrorBreakpointDoesNotExist, "no breakpoint %d", 4))

	node, err := ParseNode(el.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "response", node.Name)
	assert.Equal(t, "9", node.Attr("transaction_id"))

	de := node.Err()
	require.NotNil(t, de)
	assert.Equal(t, ErrorBreakpointDoesNotExist, de.Code)
	assert.Equal(t, "no breakpoint 4", de.Message)
}

func TestErrorResponseSanitizesMessage(t *testing.T) {
	el := NewErrorResponse("eval", "1", NewError(ErrorEvalFailed, "bad ]]> \x01 \xff"))
	node, err := ParseNode(el.Bytes())
	require.NoError(t, err)
	assert.Equal(t, `bad ]] > \x01 �`, node.Err().Message)
}

func TestNotifyAndStream(t *testing.T) {
	node, err := ParseNode(NewStream("stdout", []byte("hi\n")).Bytes())
	require.NoError(t, err)
	assert.Equal(t, "stream", node.Name)
	assert.Equal(t, "stdout", node.Attr("type"))
	v, err := node.Value()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(v))

	node, err = ParseNode(NewNotify("stdin").Bytes())
	require.NoError(t, err)
	assert.Equal(t, "notify", node.Name)
	assert.Equal(t, "stdin", node.Attr("name"))
	assert.Nil(t, node.Err())
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, "a&lt;b&gt;&amp;", EscapeText("a<b>&"))
	assert.Equal(t, "&quot;x&quot;", EscapeAttr(`"x"`))
	assert.Equal(t, `a<b>&"`, UnescapeText("a&lt;b&gt;&amp;&quot;"))
	assert.Equal(t, "&amp;lt;", EscapeText("&lt;"))
	assert.Equal(t, "&lt;", UnescapeText("&amp;lt;"))
}

func TestNeedsBase64(t *testing.T) {
	assert.False(t, NeedsBase64("plain\ttext\r\n"))
	assert.True(t, NeedsBase64("x]]>y"))
	assert.True(t, NeedsBase64("<![CDATA[x"))
	assert.True(t, NeedsBase64("bell\a"))
	assert.True(t, NeedsBase64("café"))

	payload, enc := EncodeText("café", "base64")
	assert.Equal(t, "base64", enc)
	assert.Equal(t, "Y2Fmw6k=", payload)

	payload, enc = EncodeText("café <", "none")
	assert.Equal(t, "", enc)
	assert.Equal(t, "café &lt;", payload)
}

func TestParseNode(t *testing.T) {
	doc := `<?xml version="1.0" encoding="iso-8859-1"?>
<response xmlns="urn:debugger_protocol_v1" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
  command="typemap_get" transaction_id="2">
  <map type="bool" name="bool" xsi:type="xsd:boolean"/>
  <map type="int" name="int" xsi:type="xsd:decimal"/>
  <map type="null" name="nil"/>
</response>`
	node, err := ParseNode([]byte(doc))
	require.NoError(t, err)

	maps := node.ChildrenNamed("map")
	require.Len(t, maps, 3)
	assert.Equal(t, "xsd:boolean", maps[0].Attr("xsi:type"))
	assert.False(t, maps[2].HasAttr("xsi:type"))
	assert.False(t, node.HasAttr("xmlns"))
	assert.Equal(t, 2, node.AttrInt("transaction_id"))
	assert.Equal(t, 0, node.AttrInt("missing"))
	assert.Nil(t, node.Child("nothing"))
}

func TestParseNodeErrors(t *testing.T) {
	_, err := ParseNode([]byte(""))
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = ParseNode([]byte("<a><b>"))
	assert.Error(t, err)
}

func TestNilNodeAccessors(t *testing.T) {
	var n *Node
	assert.Equal(t, "", n.Attr("x"))
	assert.False(t, n.HasAttr("x"))
	assert.Equal(t, 0, n.AttrInt("x"))
	assert.Nil(t, n.Child("x"))
	assert.Nil(t, n.ChildrenNamed("x"))
	v, err := n.Value()
	assert.NoError(t, err)
	assert.Nil(t, v)
}
