package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis/internal/claimengine"
	"github.com/trellis-mcp/trellis/internal/completion"
	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/resolver"
	"github.com/trellis-mcp/trellis/internal/rpc"
	"github.com/trellis-mcp/trellis/internal/scanner"
	"github.com/trellis-mcp/trellis/internal/validate"
)

func newTestServer() *rpc.Server {
	res := resolver.New(false)
	sc := scanner.New(res, nil)
	val := validate.New(res)
	claims := claimengine.New(sc, res, nil, nil)
	completer := completion.New(res, nil, nil)
	return rpc.New(res, sc, val, claims, completer, nil, nil)
}

func TestDispatch_UnknownOperationReturnsProtocolError(t *testing.T) {
	srv := newTestServer()
	resp := dispatch(srv, t.TempDir(), requestEnvelope{ID: "1", Op: "doesNotExist"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ProtocolError", resp.Error.Code)
}

func TestDispatch_MalformedPayloadIsSanitizedIOFailure(t *testing.T) {
	srv := newTestServer()
	resp := dispatch(srv, t.TempDir(), requestEnvelope{ID: "1", Op: "getObject", Payload: json.RawMessage(`{"ID": 123}`)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errtax.CodeIOFailure), resp.Error.Code)
	assert.Nil(t, resp.Result)
}

func TestDispatch_ObjectNotFoundSurfacesTaxonomyCode(t *testing.T) {
	srv := newTestServer()
	root := t.TempDir()
	payload, err := json.Marshal(rpc.GetObjectRequest{ProjectRoot: root, ID: "T-missing"})
	require.NoError(t, err)

	resp := dispatch(srv, root, requestEnvelope{ID: "1", Op: "getObject", Payload: payload})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(errtax.CodeObjectNotFound), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, root)
}
