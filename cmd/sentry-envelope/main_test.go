package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sentry "github.com/instana/sentry-go-core"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testEnvelope(t *testing.T) []byte {
	t.Helper()
	dsc := sentry.DynamicSamplingContext{}
	dsc.Set(sentry.DSCTraceID, "771a43a4192642f0b136d5159a501700")
	raw, err := sentry.BuildEnvelope(
		sentry.EnvelopeHeader{EventID: "9ec79c33ec9942ab8353589fcb2e04dc", Trace: &dsc},
		sentry.NewRawItem(sentry.EnvelopeItemEvent, []byte(`{"message":"hi"}`), false),
		sentry.NewAttachmentItem(&sentry.Attachment{Filename: "log.txt", ContentType: "text/plain", Payload: []byte("a\nb")}),
	)
	require.NoError(t, err)
	return raw
}

func TestInspectTable(t *testing.T) {
	out, err := run(t, string(testEnvelope(t)), "inspect", "--no-style")
	require.NoError(t, err)
	assert.Contains(t, out, "event_id = 9ec79c33ec9942ab8353589fcb2e04dc")
	assert.Contains(t, out, "trace    = sentry-trace_id=771a43a4192642f0b136d5159a501700")
	assert.Contains(t, out, "log.txt")
	assert.Contains(t, out, "attachment")
	assert.NotContains(t, out, `"message":"hi"`)
}

func TestInspectFileWithPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.bin")
	require.NoError(t, os.WriteFile(path, testEnvelope(t), 0o600))

	out, err := run(t, "", "inspect", path, "--payload")
	require.NoError(t, err)
	assert.Contains(t, out, `{"message":"hi"}`)
}

func TestInspectJSON(t *testing.T) {
	out, err := run(t, string(testEnvelope(t)), "inspect", "-", "-o", "json")
	require.NoError(t, err)

	var decoded struct {
		Header map[string]interface{} `json:"header"`
		Items  []struct {
			Header  map[string]interface{} `json:"header"`
			Payload string                 `json:"payload"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "9ec79c33ec9942ab8353589fcb2e04dc", decoded.Header["event_id"])
	require.Len(t, decoded.Items, 2)
	assert.Equal(t, "a\nb", decoded.Items[1].Payload)
	assert.EqualValues(t, 3, decoded.Items[1].Header["length"])
}

func TestInspectMalformed(t *testing.T) {
	_, err := run(t, "not an envelope\n", "inspect")
	assert.ErrorIs(t, err, sentry.ErrMalformedEnvelope)
}

func TestTraceCommand(t *testing.T) {
	out, err := run(t, "", "trace", "12312012123120121231201212312012-1121201211212012-0", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"trace_id":"12312012123120121231201212312012","span_id":"1121201211212012","sampled":"false"}`, out)

	_, err = run(t, "", "trace", "bogus")
	assert.ErrorIs(t, err, sentry.ErrMalformedSentryTrace)

	_, err = run(t, "", "trace", "12312012123120121231201212312012-1121201211212012", "-o", "yaml")
	assert.Error(t, err)
}

func TestBaggageCommand(t *testing.T) {
	out, err := run(t, "", "baggage", "vendor=a;p=1", "sentry-release=1.0%201,sentry-sample_rate=0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "vendor")
	assert.Contains(t, out, "p=1")
	assert.Contains(t, out, "1.0 1")

	out, err = run(t, "", "baggage", "vendor=a,sentry-release=1.0%201", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"release":"1.0 1"}`, out)
}
