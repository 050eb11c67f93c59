package handler

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// DocsPath is where the API reference page is served; the document itself
// lives at DocsPath + "/openapi.json".
const DocsPath = "/docs"

const redocPage = `<!DOCTYPE html>
<html>
<head>
<title>TraceCTRL API</title>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<redoc spec-url="` + DocsPath + `/openapi.json"></redoc>
<script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>`

// DocsHandler serves the OpenAPI description of the REST API.
type DocsHandler struct {
	doc *openapi3.T
	raw []byte
}

// NewDocsHandler loads and validates the embedded document.
func NewDocsHandler() (*DocsHandler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return &DocsHandler{doc: doc, raw: raw}, nil
}

// Document handles GET /docs/openapi.json.
func (h *DocsHandler) Document(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, h.raw)
}

// Page handles GET /docs with a Redoc viewer of the document.
func (h *DocsHandler) Page(c echo.Context) error {
	return c.HTML(http.StatusOK, redocPage)
}

// Paths lists the documented paths.
func (h *DocsHandler) Paths() []string {
	return h.doc.Paths.InMatchingOrder()
}
