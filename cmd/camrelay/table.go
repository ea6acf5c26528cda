package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

type tableSpec struct {
	headers []string
	aligns  []columnAlignment
	// stateColumn, when >= 0, is colored by camera state.
	stateColumn int
	colorize    bool
}

func renderTable(spec tableSpec, rows [][]string) string {
	columns := len(spec.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range spec.headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		cc := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if i < len(spec.aligns) && spec.aligns[i] == alignRight {
			cc.Align = text.AlignRight
		}
		if spec.colorize && i == spec.stateColumn {
			cc.Transformer = func(val any) string {
				s, _ := val.(string)
				return stateColors(s).Sprint(s)
			}
		}
		configs = append(configs, cc)
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func stateColors(state string) text.Colors {
	switch strings.ToLower(state) {
	case "streaming":
		return text.Colors{text.FgGreen}
	case "connecting", "reconnecting", "stopping":
		return text.Colors{text.FgYellow}
	case "failed", "offline":
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgBlue}
	}
}
