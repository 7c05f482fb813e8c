package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	sentry "github.com/instana/sentry-go-core"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	// SENTRY_DSN, SENTRY_RELEASE and SENTRY_ENVIRONMENT are read from the environment.
	if err := sentry.Init(sentry.ClientOptions{
		TracesSampleRate: 1,
		Debug:            os.Getenv("DEBUG") != "",
	}); err != nil {
		log.Fatalf("sentry init: %s", err)
	}
	defer sentry.Flush(context.Background(), 2*time.Second)

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(sentry.NewSpanExporter(nil)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(sentry.NewPropagator())
	defer tp.Shutdown(context.Background())

	downstream := &http.Client{Transport: sentry.NewRoundTripper(nil)}

	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := r.URL.Query().Get("user")
		sentry.SetUser(ctx, sentry.User{ID: user})
		sentry.SetTag(ctx, "user_id", user)
		sentry.AddBreadcrumb(ctx, &sentry.Breadcrumb{Category: "hello", Message: "greeting " + user})

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost:8081/ping", nil)
		if resp, err := downstream.Do(req); err != nil {
			sentry.CaptureException(ctx, err)
		} else {
			resp.Body.Close()
		}
		fmt.Fprintf(w, "hello %s\n", user)
	})

	log.Println("listening on :8080")
	log.Fatal(http.ListenAndServe(":8080", sentry.NewHTTPHandler(mux)))
}
