// Package decode turns encoded image bytes into bounded RGBA pixel data.
//
// Decoding is a two step process. [Probe] reads only the image header to
// learn the raw bounds, then [SampleSize] picks the largest power-of-two
// divisor that still keeps the result at least as large as the requested
// box. The image is decoded and scaled down by that divisor, so a 4000x3000
// photo requested for a 200x150 slot never lives in memory at full size
// for longer than the decode itself.
//
// Registered formats: JPEG, PNG, GIF (first frame), WebP, BMP, TIFF.
package decode
