// Package tokenstore persists access tokens between runs.
//
// Two backends implement [auth.Store]:
//   - [EnvFile]: the COPERNICUS_* keys of a dotenv file (the default, ".env")
//   - [Blob]: a JSON object in any gocloud.dev bucket
//
// [Open] picks the backend from the configured location.
package tokenstore
