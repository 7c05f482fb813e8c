package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type outputFormat string

const (
	tableFormat outputFormat = "table"
	jsonFormat  outputFormat = "json"
)

type outputOptions struct {
	Format  string
	NoStyle bool
}

func outputFlags(o *outputOptions) *pflag.FlagSet {
	fset := pflag.NewFlagSet("output", pflag.ContinueOnError)
	fset.StringVarP(&o.Format, "output", "o", string(tableFormat), "Output format: table or json.")
	fset.BoolVar(&o.NoStyle, "no-style", o.NoStyle, "Remove all styling from table output.")
	return fset
}

type column[T any] struct {
	table.ColumnConfig
	Value func(T) string
}

var noStyle = table.Style{
	Name:    "StyleDefault",
	Box:     table.StyleBoxDefault,
	Color:   table.ColorOptionsDefault,
	Format:  table.FormatOptionsDefault,
	HTML:    table.DefaultHTMLOptions,
	Options: table.Options{},
	Title:   table.TitleOptionsDefault,
}

// output prints items as a table, or as JSON of raw when json is requested.
func output[T any](cmd *cobra.Command, o outputOptions, columns []column[T], items []T, raw any) error {
	switch outputFormat(o.Format) {
	case jsonFormat:
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(raw)
	case tableFormat:
	default:
		return fmt.Errorf("invalid format %q", o.Format)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	configs := make([]table.ColumnConfig, len(columns))
	header := make(table.Row, len(columns))
	for i, c := range columns {
		configs[i] = c.ColumnConfig
		configs[i].Number = i + 1
		header[i] = c.Name
	}
	tw.SetColumnConfigs(configs)
	tw.AppendHeader(header)
	tw.SetStyle(table.StyleLight)
	if o.NoStyle {
		tw.SetStyle(noStyle)
	}
	for _, item := range items {
		row := make(table.Row, len(columns))
		for i, c := range columns {
			row[i] = c.Value(item)
		}
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}
