// Package transfer downloads one object per call, resumably.
//
// The part file is the checkpoint: its size is the offset the next
// attempt asks for with a Range header, and bytes are appended to it only
// after being flushed. When the body ends at the expected size the part
// file is renamed to its final name.
//
// [Engine.Download] reports an [Outcome] instead of an error so callers can
// decide between refreshing the token, retrying, or giving up.
//
// # File Layout
//
//	{dir}/product_{id}.zip.part   (while downloading, kept on failure)
//	{dir}/product_{id}.zip        (after completion)
package transfer
