package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	sentry "github.com/instana/sentry-go-core"
)

func newInspectCmd() *cobra.Command {
	o := outputOptions{}
	var showPayload bool
	inspectCmd := &cobra.Command{
		Use:   "inspect [file|-]",
		Short: "Decode an envelope and list its items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return inspect(cmd, r, o, showPayload)
		},
	}
	inspectCmd.Flags().AddFlagSet(outputFlags(&o))
	inspectCmd.Flags().BoolVar(&showPayload, "payload", false, "Include item payloads in the table.")
	return inspectCmd
}

type itemRow struct {
	index int
	item  *sentry.EnvelopeItem
}

func inspect(cmd *cobra.Command, r io.Reader, o outputOptions, showPayload bool) error {
	envelope, err := sentry.ReadEnvelope(r)
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}

	if outputFormat(o.Format) == tableFormat {
		h := envelope.Header
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "event_id = %s\n", h.EventID)
		if !h.SentAt.IsZero() {
			fmt.Fprintf(w, "sent_at  = %s\n", h.SentAt.Format("2006-01-02T15:04:05.000Z07:00"))
		}
		if h.Dsn != "" {
			fmt.Fprintf(w, "dsn      = %s\n", h.Dsn)
		}
		if h.Trace != nil {
			fmt.Fprintf(w, "trace    = %s\n", h.Trace.String())
		}
	}

	rows := make([]itemRow, len(envelope.Items))
	for i, item := range envelope.Items {
		rows[i] = itemRow{index: i, item: item}
	}
	columns := itemColumns
	if showPayload {
		columns = append(columns, payloadColumn)
	}
	return output(cmd, o, columns, rows, envelopeJSON(envelope))
}

var itemColumns = []column[itemRow]{
	{
		ColumnConfig: table.ColumnConfig{Name: "#", Align: text.AlignRight},
		Value:        func(r itemRow) string { return strconv.Itoa(r.index) },
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Type"},
		Value:        func(r itemRow) string { return string(r.item.Header.Type) },
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Length", Align: text.AlignRight},
		Value: func(r itemRow) string {
			if r.item.Header.Length == nil {
				return "-"
			}
			return strconv.Itoa(*r.item.Header.Length)
		},
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Content Type"},
		Value:        func(r itemRow) string { return r.item.Header.ContentType },
	},
	{
		ColumnConfig: table.ColumnConfig{Name: "Filename"},
		Value:        func(r itemRow) string { return r.item.Header.Filename },
	},
}

var payloadColumn = column[itemRow]{
	ColumnConfig: table.ColumnConfig{Name: "Payload", WidthMax: 80, WidthMaxEnforcer: text.WrapHard},
	Value:        func(r itemRow) string { return string(r.item.Payload) },
}

type envelopeItemJSON struct {
	Header  sentry.EnvelopeItemHeader `json:"header"`
	Payload string                    `json:"payload"`
}

type envelopeOutput struct {
	Header sentry.EnvelopeHeader `json:"header"`
	Items  []envelopeItemJSON    `json:"items"`
}

func envelopeJSON(e *sentry.Envelope) envelopeOutput {
	out := envelopeOutput{Header: e.Header, Items: make([]envelopeItemJSON, len(e.Items))}
	for i, item := range e.Items {
		out.Items[i] = envelopeItemJSON{Header: item.Header, Payload: string(item.Payload)}
	}
	return out
}
