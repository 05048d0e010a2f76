package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toltec-astro/dvpipe/internal/metaservice"
	"github.com/toltec-astro/dvpipe/internal/models"
	"github.com/toltec-astro/dvpipe/internal/pipeline"
	"github.com/toltec-astro/dvpipe/internal/testutil"
)

func testServer(t *testing.T) (*Server, *pipeline.IndexStore) {
	t.Helper()
	_, store := testutil.TestStore(t)
	indices := pipeline.NewIndexStore(store)
	svc := metaservice.NewService(testutil.Catalog(t), indices, nil)
	srv := New(svc, "test")
	srv.now = func() time.Time { return testutil.ExampleTime }
	return srv, indices
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so dispatch to the
	// handler functions.
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_blocks":          srv.listBlocks,
		"list_fields":          srv.listFields,
		"describe_field":       srv.describeField,
		"convert_metadata":     srv.convertMetadata,
		"get_example":          srv.getExample,
		"get_session_contract": srv.getSessionContract,
		"list_indices":         srv.listIndices,
		"get_index":            srv.getIndex,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListBlocks(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_blocks", nil)
	var blocks []metaservice.BlockInfo
	if err := json.Unmarshal([]byte(resultText(r)), &blocks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(blocks) != 2 {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestListFields_UnknownBlock(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_fields", map[string]any{"block": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown block")
	}
}

func TestDescribeField(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "describe_field", map[string]any{"name": "velFrame"})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"allowed_values"`) || !strings.Contains(text, "LSR") {
		t.Errorf("describe = %s", text)
	}

	r = callTool(t, srv, "describe_field", map[string]any{"name": "bogus"})
	if !r.IsError || resultText(r) != "unknown field: bogus" {
		t.Errorf("unknown field result = %q", resultText(r))
	}
}

func TestConvertMetadata(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "convert_metadata", map[string]any{
		"data": "LMTData:\n  projectID: 2021-S1-US-3\n  velFrame: LSR\n",
		"from": "session",
		"to":   "wire",
	})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"typeName": "velFrame"`) {
		t.Errorf("wire = %s", resultText(r))
	}
}

func TestConvertMetadata_Errors(t *testing.T) {
	srv, _ := testServer(t)
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"vocabulary", map[string]any{"data": `{"LMTData":{"velFrame":"Galactic"}}`, "from": "flat", "to": "wire"}, "velFrame"},
		{"bad format", map[string]any{"data": "{}", "from": "xml", "to": "wire"}, "unknown format"},
		{"missing data", map[string]any{"from": "flat", "to": "wire"}, "data"},
		{"validate", map[string]any{"data": `{"LMTData":{"projectID":"x"}}`, "from": "flat", "to": "wire", "validate": true}, "missing"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := callTool(t, srv, "convert_metadata", c.args)
			if !r.IsError || !strings.Contains(resultText(r), c.want) {
				t.Errorf("result = %v %q, want error mentioning %q", r.IsError, resultText(r), c.want)
			}
		})
	}
}

func TestGetExample(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_example", nil)
	text := resultText(r)
	if !strings.HasPrefix(text, "# LMTData metadata block version") {
		t.Errorf("example = %s", text)
	}
	if !strings.Contains(text, "2023-06-01T12:00:00.000000") {
		t.Error("example should be stamped with the server clock")
	}
}

func TestGetSessionContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_session_contract", nil)
	if resultText(r) != SessionFormatContract {
		t.Error("contract mismatch")
	}
}

func TestIndices(t *testing.T) {
	srv, indices := testServer(t)
	if r := callTool(t, srv, "list_indices", nil); resultText(r) != "no dataset indices found" {
		t.Errorf("empty list = %q", resultText(r))
	}
	if _, err := indices.Save(&models.DatasetIndex{
		Meta:    models.Meta{ProjectID: "2021-S1-US-3"},
		Dataset: models.Dataset{Title: "T"},
	}); err != nil {
		t.Fatal(err)
	}
	if r := callTool(t, srv, "list_indices", nil); resultText(r) != "2021-S1-US-3\t0 files\tT" {
		t.Errorf("list = %q", resultText(r))
	}
	r := callTool(t, srv, "get_index", map[string]any{"project_id": "2021-S1-US-3"})
	if r.IsError || !strings.Contains(resultText(r), `"title": "T"`) {
		t.Errorf("get = %q", resultText(r))
	}
	r = callTool(t, srv, "get_index", map[string]any{"project_id": "2099-S1-US-1"})
	if !r.IsError {
		t.Error("expected error for missing index")
	}
}
