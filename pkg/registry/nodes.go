package registry

import (
	"github.com/dukex/flowline/pkg/nodes/htmlextract"
	"github.com/dukex/flowline/pkg/nodes/httprequest"
	"github.com/dukex/flowline/pkg/nodes/jsonreshape"
	"github.com/dukex/flowline/pkg/nodes/llm"
	"github.com/dukex/flowline/pkg/nodes/rowinsert"
	"github.com/dukex/flowline/pkg/nodes/screenshot"
	"github.com/dukex/flowline/pkg/nodes/trigger"
)

// RegisterDefaultNodes registers all built-in node factories with the builder.
func RegisterDefaultNodes(b *Builder) *Builder {
	// Trigger nodes
	for _, f := range trigger.Factories() {
		b.Register(f)
	}

	b.Register(httprequest.NewHTTPRequestNodeFactory())

	// AI nodes
	for _, f := range llm.Factories() {
		b.Register(f)
	}

	b.Register(htmlextract.NewFactory())
	b.Register(screenshot.NewFactory())
	b.Register(jsonreshape.NewFactory())
	b.Register(rowinsert.NewFactory())

	return b
}
