// Package render converts flow graphs into Sankey diagram specifications.
package render

import (
	"encoding/json"
	"html/template"
	"io"

	"github.com/siherrmann/cohortflow/helper"
	"github.com/siherrmann/cohortflow/model"
)

// NodeStyle holds the node appearance of the Sankey trace.
type NodeStyle struct {
	Pad       int     `json:"pad"`
	Thickness int     `json:"thickness"`
	LineColor string  `json:"line_color"`
	LineWidth float64 `json:"line_width"`
	Color     string  `json:"color"`
}

// DefaultNodeStyle is the style used for every diagram of the study.
func DefaultNodeStyle() NodeStyle {
	return NodeStyle{
		Pad:       15,
		Thickness: 20,
		LineColor: "black",
		LineWidth: 0.5,
		Color:     "blue",
	}
}

// Options configures a diagram.
type Options struct {
	Title    string
	FontSize int
	Style    *NodeStyle // nil uses DefaultNodeStyle
}

// Diagram is what a Sankey renderer consumes: labels in index order and
// parallel source, target and value arrays indexing into them.
type Diagram struct {
	Title    string    `json:"title,omitempty"`
	FontSize int       `json:"font_size,omitempty"`
	Labels   []string  `json:"labels"`
	Source   []int     `json:"source"`
	Target   []int     `json:"target"`
	Value    []int     `json:"value"`
	Style    NodeStyle `json:"style"`
}

// Sankey builds the diagram of graph.
func Sankey(graph *model.FlowGraph, opts Options) (*Diagram, error) {
	if graph == nil || len(graph.Nodes) == 0 {
		return nil, &model.EmptyResultError{What: "graph has no nodes"}
	}

	style := DefaultNodeStyle()
	if opts.Style != nil {
		style = *opts.Style
	}

	d := &Diagram{
		Title:    opts.Title,
		FontSize: opts.FontSize,
		Labels:   graph.Labels(),
		Source:   make([]int, len(graph.Edges)),
		Target:   make([]int, len(graph.Edges)),
		Value:    make([]int, len(graph.Edges)),
		Style:    style,
	}
	for i, e := range graph.Edges {
		d.Source[i] = e.Source
		d.Target[i] = e.Target
		d.Value[i] = e.Weight
	}

	return d, nil
}

// Figure returns the diagram as a plotly figure object.
func (d *Diagram) Figure() map[string]interface{} {
	trace := map[string]interface{}{
		"type": "sankey",
		"node": map[string]interface{}{
			"pad":       d.Style.Pad,
			"thickness": d.Style.Thickness,
			"line": map[string]interface{}{
				"color": d.Style.LineColor,
				"width": d.Style.LineWidth,
			},
			"label": d.Labels,
			"color": d.Style.Color,
		},
		"link": map[string]interface{}{
			"source": d.Source,
			"target": d.Target,
			"value":  d.Value,
		},
	}

	layout := map[string]interface{}{}
	if d.Title != "" {
		layout["title"] = map[string]interface{}{"text": d.Title}
	}
	if d.FontSize > 0 {
		layout["font"] = map[string]interface{}{"size": d.FontSize}
	}

	return map[string]interface{}{
		"data":   []interface{}{trace},
		"layout": layout,
	}
}

// JSON encodes the plotly figure.
func (d *Diagram) JSON() ([]byte, error) {
	b, err := json.Marshal(d.Figure())
	if err != nil {
		return nil, helper.NewError("marshal figure", err)
	}
	return b, nil
}

var pageTemplate = template.Must(template.New("sankey").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://cdn.plot.ly/plotly-2.35.2.min.js"></script>
</head>
<body>
<div id="sankey" style="width:100%;height:100vh;"></div>
<script>
var figure = {{.Figure}};
Plotly.newPlot("sankey", figure.data, figure.layout);
</script>
</body>
</html>
`))

// WriteHTML writes a standalone page showing the diagram.
func (d *Diagram) WriteHTML(w io.Writer) error {
	b, err := d.JSON()
	if err != nil {
		return err
	}

	title := d.Title
	if title == "" {
		title = "Sankey diagram"
	}

	err = pageTemplate.Execute(w, struct {
		Title  string
		Figure template.JS
	}{
		Title:  title,
		Figure: template.JS(b),
	})
	if err != nil {
		return helper.NewError("execute page template", err)
	}
	return nil
}
