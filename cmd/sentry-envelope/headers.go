package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	sentry "github.com/instana/sentry-go-core"
)

func newTraceCmd() *cobra.Command {
	o := outputOptions{}
	traceCmd := &cobra.Command{
		Use:   "trace <sentry-trace>",
		Short: "Decode a sentry-trace header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sentry.ParseSentryTrace(args[0])
			if err != nil {
				return err
			}
			raw := map[string]string{
				"trace_id": st.TraceID.String(),
				"span_id":  st.SpanID.String(),
				"sampled":  st.Sampled.String(),
			}
			rows := []keyValue{
				{"trace_id", raw["trace_id"]},
				{"span_id", raw["span_id"]},
				{"sampled", raw["sampled"]},
			}
			return output(cmd, o, keyValueColumns, rows, raw)
		},
	}
	traceCmd.Flags().AddFlagSet(outputFlags(&o))
	return traceCmd
}

func newBaggageCmd() *cobra.Command {
	o := outputOptions{}
	baggageCmd := &cobra.Command{
		Use:   "baggage <baggage>",
		Short: "Decode a baggage header and show its dynamic sampling context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := sentry.ParseBaggage(strings.Join(args, ","))
			rows := make([]baggageRow, len(b))
			for i, m := range b {
				rows[i] = baggageRow{member: m}
			}
			return output(cmd, o, baggageColumns, rows, sentry.DynamicSamplingContextFromBaggage(b))
		},
	}
	baggageCmd.Flags().AddFlagSet(outputFlags(&o))
	return baggageCmd
}

type keyValue struct {
	key, value string
}

var keyValueColumns = []column[keyValue]{
	{ColumnConfig: table.ColumnConfig{Name: "Field"}, Value: func(kv keyValue) string { return kv.key }},
	{ColumnConfig: table.ColumnConfig{Name: "Value"}, Value: func(kv keyValue) string { return kv.value }},
}

type baggageRow struct {
	member sentry.Member
}

var baggageColumns = []column[baggageRow]{
	{
		ColumnConfig: table.ColumnConfig{Name: "Key"},
		Value:        func(r baggageRow) string { return r.member.Key },
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Value"},
		Value:        func(r baggageRow) string { return r.member.Value },
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Sentry"},
		Value: func(r baggageRow) string {
			if r.member.IsSentry() {
				return "yes"
			}
			return "no"
		},
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Properties"},
		Value: func(r baggageRow) string {
			props := make([]string, len(r.member.Properties))
			for i, p := range r.member.Properties {
				props[i] = p.String()
			}
			return strings.Join(props, ";")
		},
	},
}
