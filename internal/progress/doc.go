// Package progress provides progress reporting for icon downloads.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalItems:  len(items),
//	    Capacity:    10,
//	    Destination: "./output",
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ItemStarted()
//	reporter.ItemCompleted(size)
//
// # Output Format
//
//	[iconsync] Downloading 3512 icons to ./output | Capacity: 10
//	[iconsync] Progress: 45.2% | 1580 stored | 8 failed | 10 in-flight | 1914 pending | 2.1 MiB
package progress
