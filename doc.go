// Package imgcache provides a two-tier image cache for Go.
//
// Images are identified by URI. A request is served from the first tier that
// has it:
//
//  1. memory: decoded images, bounded by their pixel footprint
//  2. disk: raw encoded bytes, bounded by total size and evicted in LRU order
//  3. network: the origin, whose body is streamed to disk and then decoded
//
// Decoding picks the largest power-of-two sample size that keeps the image
// at least as large as the requested target, so a 4000x3000 photo requested
// for a 200x200 view decodes at 1000x750 instead of full resolution.
//
// # Quick Start
//
//	l, _ := imgcache.New(imgcache.WithDiskDir("./cache"))
//	defer l.Close()
//
//	img, _ := l.Load(ctx, "https://example.com/cat.png", 200, 200)
//	fmt.Println(img.Width, img.Height)
//
// # Asynchronous Requests
//
// Request returns immediately. The consumer is called exactly once, on a
// single completion goroutine, so consumers never race with each other:
//
//	l.RequestWithToken(uri, 200, 200, cell.generation, imgcache.ConsumerFuncs{
//	    Ready:  func(r imgcache.Result) { cell.Show(r.Token, r.Image) },
//	    Failed: func(r imgcache.Result) { cell.ShowError(r.Token, r.Err) },
//	})
//
// A memory hit is delivered before Request returns. Concurrent requests for
// the same URI share one fetch and one decode.
//
// # Durability
//
// Downloads are staged in a temporary file and renamed into place only after
// the body was fully received, so a crash never leaves a partial image in the
// cache. The disk index is an append-only journal replayed on startup.
//
// # Origins
//
// The default origin serves http, https and file URIs. S3 and MinIO objects
// are available through the origin/s3 and origin/minio packages:
//
//	mux := origin.DefaultMux()
//	mux.Handle("s3", s3fetcher)
//	l, _ := imgcache.New(imgcache.WithFetcher(mux))
package imgcache
