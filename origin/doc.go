// Package origin defines how image bytes are obtained from their source.
//
// A Fetcher turns a URI into a byte stream. The loader never interprets the
// URI itself: it hands it to the configured Fetcher and stores whatever comes
// back. Failures are reported as *FetchError so callers can tell timeouts,
// refused connections and bad HTTP statuses apart.
//
// # Implementations
//
//   - HTTP: net/http GET with status checking
//   - File: local paths and file:// URIs
//   - Mux: dispatches on the URI scheme
//   - origin/minio, origin/s3: object storage (bucket in the URI host)
//
// # Example
//
//	mux := origin.NewMux()
//	mux.Handle("http", origin.NewHTTP())
//	mux.Handle("https", origin.NewHTTP())
//	mux.Handle("s3", s3origin.NewFetcher(client))
package origin
