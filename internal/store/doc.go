// Package store persists fetched icons.
//
// Two writers implement the Writer interface:
//   - DirWriter writes plain files into a local directory, created once
//     when the writer is constructed
//   - BucketWriter writes objects through gocloud.dev/blob, so the same
//     run can target file://, mem://, s3:// or gs:// locations
//
// Writes replace existing content. Failures are reported as *WriteError.
//
//	w, err := store.Open(ctx, "s3://icons?region=eu-west-1")
//	defer w.Close()
//	n, err := w.Write(ctx, "home.svg", body)
package store
