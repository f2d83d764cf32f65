// Package progress provides progress reporting for batch downloads.
//
// This package writes human-readable progress lines to stderr, including
// item counts, bytes written and transfer speed.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalItems:  len(items),
//	    Destination: outputDir,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ItemBegan()
//	reporter.BytesWritten(n)
//	reporter.ItemCompleted()
//
// # Output Format
//
//	[dsfetch] Downloading 12 products to /data/s1 | Workers: 2
//	[dsfetch] Progress: 41.7% | 5 done | 0 failed | 2 active | 4.1 GiB written | Speed: 48 MiB/s | 0b3a...
//	[dsfetch] Products: 11/12 downloaded | 1 failed | 15 attempts
//	[dsfetch] Total time: 14m 2s | Written: 9.8 GiB (resumed past 1.1 GiB) | Average speed: 12 MiB/s
package progress
