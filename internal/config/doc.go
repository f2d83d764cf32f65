// Package config defines configuration structures for the dsfetch CLI.
//
// Configuration can be provided via, from lowest to highest precedence:
//   - Defaults (Default)
//   - YAML configuration file (LoadFromFile)
//   - Environment variables, optionally loaded from a .env file
//     (LoadDotEnv, LoadFromEnv)
//   - Command-line flags (Merge)
//
// Credentials and persisted tokens keep the COPERNICUS_ names used in .env
// files:
//
//	COPERNICUS_USERNAME
//	COPERNICUS_PASSWORD
//	COPERNICUS_ACCESS_TOKEN
//	COPERNICUS_REFRESH_TOKEN
//
// Everything else uses the DSFETCH_ prefix, for example DSFETCH_WORKERS or
// DSFETCH_RETRY_BACKOFF.
package config
