// Package bibliofabric is a framework for building resilient clients
// against paginated, JSON-over-HTTP scholarly APIs.
//
// # Overview
//
// The package supplies the cross-cutting machinery every such client needs —
// retries with exponential backoff, client-side response caching, rate-limit
// awareness, pluggable authentication, request/response hooks, and a uniform
// error taxonomy — while a concrete client describes only the API's unique
// shape: its base URL, its response envelope, its authentication, and its
// resources.
//
// Getting an engine
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/utsmok/bibliofabric/pkg/bibliofabric"
//	)
//
//	func example() {
//	  ctx := context.Background()
//
//	  settings := bibliofabric.DefaultSettings()
//	  settings.EnableCaching = true
//
//	  engine, err := bibliofabric.New("https://api.example.org/v1", settings, myEnvelope{}, bibliofabric.NoAuth{})
//	  if err != nil { log.Fatal(err) }
//	  defer func() { _ = engine.Close() }()
//
//	  works, err := bibliofabric.NewBinding[Work](engine, "works")
//	  if err != nil { log.Fatal(err) }
//
//	  page, err := works.Search(ctx, bibliofabric.SearchOptions{PageSize: 50})
//	  if err != nil { log.Fatal(err) }
//	  _ = page
//	}
//
// # Envelopes
//
// A ResponseEnvelope teaches the framework where results, single items,
// pagination cursors, and totals live inside an API's response documents.
// The engine never inspects JSON structure itself; implement the envelope
// for your API and every binding built on the engine understands its pages.
//
// # Resource bindings
//
// Binding[T] layers three operations on the engine: Get fetches a single
// entity by id (via an id-filtered search, the universally supported
// substitute for item endpoints), Search fetches one page verbatim, and
// Iterate walks all matching entities with cursor pagination.
//
// # Errors
//
// Every failure surfaces as a *FrameworkError. Match the root with
// errors.As to handle all framework failures uniformly, or use errors.Is
// with the kind sentinels (ErrNotFound, ErrRateLimit, ...) and the Is*
// helpers to branch on a specific failure category.
package bibliofabric
