package imgcache_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"

	"github.com/hupe1980/imgcache"
	"github.com/hupe1980/imgcache/origin"
)

func examplePNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		log.Fatal(err)
	}
	return buf.Bytes()
}

// exampleOrigin serves a 1000x800 PNG for every URI.
var exampleOrigin = origin.FetcherFunc(func(ctx context.Context, uri string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(examplePNG(1000, 800))), nil
})

// Example_load demonstrates a blocking load with downsampling.
func Example_load() {
	dir, _ := os.MkdirTemp("", "imgcache-example")
	defer os.RemoveAll(dir)

	l, err := imgcache.New(
		imgcache.WithDiskDir(dir),
		imgcache.WithFetcher(exampleOrigin),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	res, err := l.LoadResult(context.Background(), "https://example.com/a.png", 200, 200)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Source, res.Image.Width, res.Image.Height, res.Image.SampleSize)

	// A second load is served from memory.
	res, _ = l.LoadResult(context.Background(), "https://example.com/a.png", 200, 200)
	fmt.Println(res.Source)
	// Output:
	// network 500 400 2
	// memory
}

// Example_request demonstrates the asynchronous API with a token.
func Example_request() {
	l, err := imgcache.New(
		imgcache.WithoutDisk(),
		imgcache.WithFetcher(exampleOrigin),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	done := make(chan struct{})
	err = l.RequestWithToken("https://example.com/b.png", 0, 0, "cell-7", imgcache.ConsumerFuncs{
		Ready: func(r imgcache.Result) {
			fmt.Println(r.Token, r.Image.Width, r.Image.Height)
			close(done)
		},
		Failed: func(r imgcache.Result) {
			fmt.Println("failed:", r.Err)
			close(done)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	<-done
	// Output: cell-7 1000 800
}

// Example_key shows how URIs map to cache keys.
func Example_key() {
	fmt.Println(imgcache.Key("https://example.com/a.png"))
}
