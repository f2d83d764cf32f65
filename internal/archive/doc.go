// Package archive mirrors downloaded products into object storage.
//
// Products are stored under {prefix}product_{id}.zip in any bucket
// gocloud.dev can open:
//
//	s3://bucket?region=eu-central-1
//	gs://bucket
//	file:///srv/products
//
// Every object carries its SHA-256 in metadata, so re-archiving an
// unchanged product is a metadata lookup rather than an upload, and
// Verify can check an archived copy without downloading it.
package archive
