// Package hostfs writes the files NSS clients read.
//
// Every replacement is staged as a temp file in the target directory,
// fsynced, then renamed over the target, so a concurrent reader sees either
// the old or the new content and never a partial file.
//
// Output layout (libnss-extrausers):
//   <outdir>/passwd    0644
//   <outdir>/group     0644
//   <outdir>/shadow    0640
package hostfs
