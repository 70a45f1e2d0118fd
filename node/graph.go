package node

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"

	"github.com/alpenlabs/strata-sub002/types"
)

// serveGraph renders the unfinalized block tree as a force graph. The
// finalized root draws green, pending blocks red.
func (n *Node) serveGraph(w http.ResponseWriter, r *http.Request) {
	root, edges := n.chainTracker.Snapshot()

	page := components.NewPage()
	page.AddCharts(buildBlockGraph(root, edges))
	page.Render(w)
}

func buildBlockGraph(root types.L2BlockId, edges map[types.L2BlockId]types.L2BlockId) *charts.Graph {
	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Block Tree",
			Subtitle: "unfinalized blocks above the finalized root",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	heights := make(map[types.L2BlockId]int, len(edges)+1)
	heights[root] = 0
	var heightOf func(id types.L2BlockId) int
	heightOf = func(id types.L2BlockId) int {
		if h, ok := heights[id]; ok {
			return h
		}
		parent, ok := edges[id]
		if !ok {
			heights[id] = 0
			return 0
		}
		h := heightOf(parent) + 1
		heights[id] = h
		return h
	}

	nodes := make([]opts.GraphNode, 0, len(edges)+1)
	links := make([]opts.GraphLink, 0, len(edges))

	addNode := func(id types.L2BlockId, finalized bool) {
		color := "red"
		if finalized {
			color = "green"
		}
		nodes = append(nodes, opts.GraphNode{
			Name:  id.String_short(),
			Value: float32(heightOf(id)),
			Tooltip: &opts.Tooltip{
				Show:      opts.Bool(true),
				Formatter: echartstypes.FuncStr(fmt.Sprintf("Block: %s<br>Height: %d<br>Finalized: %v", id.String(), heightOf(id), finalized)),
			},
			ItemStyle: &opts.ItemStyle{
				Color: color,
			},
		})
	}

	addNode(root, true)
	for id, parent := range edges {
		addNode(id, false)
		links = append(links, opts.GraphLink{
			Source: parent.String_short(),
			Target: id.String_short(),
		})
	}

	graph.AddSeries("BlockTree", nodes, links).SetSeriesOptions(
		charts.WithGraphChartOpts(opts.GraphChart{
			Force:  &opts.GraphForce{Repulsion: 1000, Gravity: 0.3},
			Layout: "force",
			Roam:   opts.Bool(true),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)
	return graph
}
